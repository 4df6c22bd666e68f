package provision

import (
	"context"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
)

// ConfigKey is one server configurable.
type ConfigKey struct {
	Name  string
	Value string
}

// CriticalKeys are the configurables the SDP configure step has been seen to omit.
func CriticalKeys(inst interfaces.Instance) []ConfigKey {
	return []ConfigKey{
		{Name: "journalPrefix", Value: inst.JournalPrefix()},
		{Name: "server.depot.root", Value: inst.DepotDir()},
		{Name: "monitor", Value: "1"},
		{Name: "serverDescription", Value: inst.Description},
	}
}

// ApplyCriticalKeys sets each critical key whose current value differs and
// returns how many were changed. Failures are recorded in report.
func ApplyCriticalKeys(ctx context.Context, client *p4.Client, report *interfaces.Report) int {
	changed := 0
	for _, key := range CriticalKeys(client.Instance()) {
		current, set, err := client.ConfigureShow(ctx, key.Name)
		if err != nil {
			report.Errorf("could not read %s: %v", key.Name, err)
			continue
		}
		if set && current == key.Value {
			continue
		}
		if err := client.ConfigureSet(ctx, key.Name, key.Value); err != nil {
			report.Errorf("%v", err)
			continue
		}
		changed++
	}
	return changed
}
