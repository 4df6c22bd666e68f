package interfaces

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// StrictestSecurityLevel is the highest value accepted by the server's security configurable.
const StrictestSecurityLevel = 4

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ErrInvalidInstance is returned by Instance.Validate.
var ErrInvalidInstance = errors.New("invalid instance configuration")

// Instance describes one logical server deployment laid out by the SDP on a mounted volume.
type Instance struct {
	// ID is the SDP instance identifier, usually a small integer such as "1".
	ID string

	// SDPRoot is the mount point of the SDP tree, "/p4" in the stock layout.
	SDPRoot string

	// Port is the TCP port the server listens on.
	Port int

	SSL       bool
	SSLPrefix string

	SecurityLevel int
	Unicode       bool

	MasterHost  string
	Domain      string
	Description string

	// ServiceUser is the OS account owning the instance files.
	ServiceUser string

	// P4User is the server super user used for administration commands.
	P4User string
}

// DefaultInstance returns the stock SDP instance "1".
func DefaultInstance() Instance {
	return Instance{
		ID:            "1",
		SDPRoot:       "/p4",
		Port:          1666,
		SSLPrefix:     "ssl:",
		SecurityLevel: StrictestSecurityLevel,
		MasterHost:    "localhost",
		ServiceUser:   "perforce",
		P4User:        "perforce",
		Description:   "Helix Core server",
	}
}

// Validate checks the fields every component relies upon.
func (i Instance) Validate() error {
	if !instanceIDPattern.MatchString(i.ID) {
		return fmt.Errorf("%w: instance id %q", ErrInvalidInstance, i.ID)
	}
	if !filepath.IsAbs(i.SDPRoot) {
		return fmt.Errorf("%w: sdp root %q must be absolute", ErrInvalidInstance, i.SDPRoot)
	}
	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidInstance, i.Port)
	}
	if i.SecurityLevel < 0 || i.SecurityLevel > StrictestSecurityLevel {
		return fmt.Errorf("%w: security level %d", ErrInvalidInstance, i.SecurityLevel)
	}
	if i.SSL && !strings.HasSuffix(i.SSLPrefix, ":") {
		return fmt.Errorf("%w: ssl prefix %q must end with ':'", ErrInvalidInstance, i.SSLPrefix)
	}
	return nil
}

func (i Instance) InstanceDir() string   { return filepath.Join(i.SDPRoot, i.ID) }
func (i Instance) Root() string          { return filepath.Join(i.InstanceDir(), "root") }
func (i Instance) DepotDir() string      { return filepath.Join(i.InstanceDir(), "depots") }
func (i Instance) CheckpointDir() string { return filepath.Join(i.InstanceDir(), "checkpoints") }
func (i Instance) LogDir() string        { return filepath.Join(i.InstanceDir(), "logs") }
func (i Instance) BinDir() string        { return filepath.Join(i.InstanceDir(), "bin") }
func (i Instance) ActiveJournal() string { return filepath.Join(i.LogDir(), "journal") }
func (i Instance) PIDFile() string       { return filepath.Join(i.Root(), "server.pid") }
func (i Instance) SSLDir() string        { return filepath.Join(i.SDPRoot, "ssl") }
func (i Instance) CommonBin() string     { return filepath.Join(i.SDPRoot, "common", "bin") }
func (i Instance) ConfigDir() string     { return filepath.Join(i.SDPRoot, "common", "config") }

// ServerName is the SDP naming stem, "p4_<ID>".
func (i Instance) ServerName() string { return "p4_" + i.ID }

// JournalPrefix is the path prefix for rotated journals and checkpoints.
func (i Instance) JournalPrefix() string {
	return filepath.Join(i.CheckpointDir(), i.ServerName())
}

// ControlScript is the per-instance init script; its presence means the instance exists.
func (i Instance) ControlScript() string {
	return filepath.Join(i.BinDir(), "p4d_"+i.ID+"_init")
}

// SetupMarker records that first-run provisioning completed for this container.
func (i Instance) SetupMarker() string {
	return filepath.Join(i.SDPRoot, ".setup_complete_"+i.ID)
}

// PasswordFile is where the SDP keeps the admin password for automation.
func (i Instance) PasswordFile() string {
	return filepath.Join(i.ConfigDir(), ".p4passwd."+i.ServerName()+".admin")
}

// VarsFile is the SDP per-instance environment file.
func (i Instance) VarsFile() string {
	return filepath.Join(i.ConfigDir(), i.ServerName()+".vars")
}

// ListenAddress is the local TCP address probed for readiness.
func (i Instance) ListenAddress() string {
	return "localhost:" + strconv.Itoa(i.Port)
}

// P4Port is the client-side P4PORT value for local administration.
func (i Instance) P4Port() string {
	if i.SSL {
		return i.SSLPrefix + i.ListenAddress()
	}
	return i.ListenAddress()
}
