package p4

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/helix-container/interfaces"
)

// DefaultTimeout bounds individual administrative commands.
const DefaultTimeout = 2 * time.Minute

// Client issues administrative commands against one instance.
type Client struct {
	runner interfaces.Runner
	inst   interfaces.Instance
	log    *slog.Logger

	// P4Bin and P4DBin locate the client and server binaries.
	P4Bin  string
	P4DBin string

	// Home is the service account home holding .p4tickets and .p4trust.
	Home string

	Timeout time.Duration
}

// NewClient creates a Client using the binaries on PATH.
func NewClient(runner interfaces.Runner, inst interfaces.Instance, log *slog.Logger) *Client {
	return &Client{
		runner:  runner,
		inst:    inst,
		log:     log,
		P4Bin:   "p4",
		P4DBin:  "p4d",
		Timeout: DefaultTimeout,
	}
}

// Instance returns the instance the client administers.
func (c *Client) Instance() interfaces.Instance { return c.inst }

func (c *Client) clientEnv() []string {
	env := []string{
		"P4PORT=" + c.inst.P4Port(),
		"P4USER=" + c.inst.P4User,
		"P4CONFIG=",
		"P4ENVIRO=/dev/null",
	}
	if c.Home != "" {
		env = append(env,
			"P4TICKETS="+filepath.Join(c.Home, ".p4tickets"),
			"P4TRUST="+filepath.Join(c.Home, ".p4trust"))
	}
	return env
}

func (c *Client) p4(stdin io.Reader, args ...string) interfaces.Command {
	return interfaces.Command{
		Name:    c.P4Bin,
		Args:    args,
		Env:     c.clientEnv(),
		Stdin:   stdin,
		Timeout: c.Timeout,
	}
}

func (c *Client) p4d(args ...string) interfaces.Command {
	return interfaces.Command{
		Name: c.P4DBin,
		Args: args,
		Env: []string{
			"P4ROOT=" + c.inst.Root(),
			"P4SSLDIR=" + c.inst.SSLDir(),
		},
		Timeout: c.Timeout,
	}
}

func (c *Client) run(ctx context.Context, cmd interfaces.Command) (*interfaces.Result, error) {
	return interfaces.RunChecked(ctx, c.runner, cmd)
}

// Info runs "p4 info" and fails unless the server answered.
func (c *Client) Info(ctx context.Context) (*interfaces.Result, error) {
	res, err := c.run(ctx, c.p4(nil, "-ztag", "info"))
	if err != nil {
		return res, fmt.Errorf("server did not answer p4 info: %w", err)
	}
	return res, nil
}

// Trust accepts the server's TLS fingerprint for the service account.
func (c *Client) Trust(ctx context.Context) error {
	_, err := c.run(ctx, c.p4(nil, "trust", "-y", "-f"))
	return err
}

// Login obtains a ticket for the super user.
func (c *Client) Login(ctx context.Context, password string) error {
	_, err := c.run(ctx, c.p4(strings.NewReader(password+"\n"), "login"))
	return err
}

// SetPassword sets the super user's password. The secret only travels over stdin.
func (c *Client) SetPassword(ctx context.Context, password string) error {
	stdin := strings.NewReader(password + "\n" + password + "\n")
	if _, err := c.run(ctx, c.p4(stdin, "passwd")); err != nil {
		return fmt.Errorf("could not set password for %s: %w", c.inst.P4User, err)
	}
	return nil
}

// ConfigureShow returns the value of a configurable and whether it is set.
func (c *Client) ConfigureShow(ctx context.Context, key string) (string, bool, error) {
	res, err := c.run(ctx, c.p4(nil, "-ztag", "configure", "show", key))
	if err != nil {
		return "", false, err
	}
	for _, rec := range ParseTagged(res.Stdout) {
		if rec["Name"] == key {
			return rec["Value"], true, nil
		}
	}
	return "", false, nil
}

// ConfigureSet sets key=value server-wide.
func (c *Client) ConfigureSet(ctx context.Context, key, value string) error {
	if _, err := c.run(ctx, c.p4(nil, "configure", "set", key+"="+value)); err != nil {
		return fmt.Errorf("could not set %s: %w", key, err)
	}
	return nil
}

// LoadTypemap replaces the typemap table with the form read from r.
func (c *Client) LoadTypemap(ctx context.Context, r io.Reader) error {
	_, err := c.run(ctx, c.p4(r, "typemap", "-i"))
	return err
}

// LoadProtections replaces the protections table with the form read from r.
func (c *Client) LoadProtections(ctx context.Context, r io.Reader) error {
	_, err := c.run(ctx, c.p4(r, "protect", "-i"))
	return err
}

// LiveCheckpoint runs the SDP live checkpoint script.
func (c *Client) LiveCheckpoint(ctx context.Context) error {
	cmd := interfaces.Command{
		Name: filepath.Join(c.inst.CommonBin(), "live_checkpoint.sh"),
		Args: []string{c.inst.ID},
	}
	_, err := c.run(ctx, cmd)
	return err
}

// EnableUnicode switches a fresh server root into unicode mode.
func (c *Client) EnableUnicode(ctx context.Context) error {
	_, err := c.run(ctx, c.p4d("-r", c.inst.Root(), "-xi"))
	return err
}

// GenerateCertificates asks p4d to write a self-signed key pair into the SSL directory.
func (c *Client) GenerateCertificates(ctx context.Context) error {
	_, err := c.run(ctx, c.p4d("-Gc"))
	return err
}

// ErrNoVersion is returned when p4d -V output carries no revision line.
var ErrNoVersion = errors.New("no revision line in version output")

// ServerVersion runs "p4d -V" and parses its revision line.
func (c *Client) ServerVersion(ctx context.Context) (Version, error) {
	res, err := c.run(ctx, c.p4d("-V"))
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(res.Stdout)
}
