package provision

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/helix-container/instanceutils"
	"github.com/ruteri/helix-container/interfaces"
)

// SSLConfigured reports whether an existing instance already serves SSL,
// judging by the P4PORT its SDP vars file exports.
func SSLConfigured(inst interfaces.Instance) bool {
	f, err := os.Open(inst.VarsFile())
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "export ")
		value, ok := strings.CutPrefix(line, "P4PORT=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		if strings.HasPrefix(value, inst.SSLPrefix) || strings.HasPrefix(value, "ssl") {
			return true
		}
	}
	return false
}

// BrokerPaths returns the broker binary, its instance config and the per-instance launcher link.
func BrokerPaths(inst interfaces.Instance) (binary, config, link string) {
	return filepath.Join(inst.CommonBin(), "p4broker"),
		filepath.Join(inst.ConfigDir(), inst.ServerName()+".broker.cfg"),
		filepath.Join(inst.BinDir(), "p4broker_"+inst.ID)
}

// LinkBroker points the instance broker launcher at the broker binary when both the
// binary and its configuration exist. It reports whether the link was (re)created.
func LinkBroker(inst interfaces.Instance) (bool, error) {
	binary, config, link := BrokerPaths(inst)
	if !instanceutils.Exists(binary) || !instanceutils.Exists(config) {
		return false, nil
	}
	if target, err := os.Readlink(link); err == nil && target == binary {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return false, err
	}
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, os.Symlink(binary, link)
}
