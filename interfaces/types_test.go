package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstance_Paths(t *testing.T) {
	inst := DefaultInstance()

	assert.Equal(t, "/p4/1/root", inst.Root())
	assert.Equal(t, "/p4/1/depots", inst.DepotDir())
	assert.Equal(t, "/p4/1/checkpoints/p4_1", inst.JournalPrefix())
	assert.Equal(t, "/p4/1/bin/p4d_1_init", inst.ControlScript())
	assert.Equal(t, "/p4/1/logs/journal", inst.ActiveJournal())
	assert.Equal(t, "/p4/common/config/.p4passwd.p4_1.admin", inst.PasswordFile())
	assert.Equal(t, "/p4/.setup_complete_1", inst.SetupMarker())
	assert.Equal(t, "localhost:1666", inst.P4Port())

	inst.SSL = true
	assert.Equal(t, "ssl:localhost:1666", inst.P4Port())
}

func TestInstance_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Instance)
		wantErr bool
	}{
		{name: "default", mutate: func(*Instance) {}},
		{name: "token id", mutate: func(i *Instance) { i.ID = "edge_1" }},
		{name: "path in id", mutate: func(i *Instance) { i.ID = "../1" }, wantErr: true},
		{name: "relative root", mutate: func(i *Instance) { i.SDPRoot = "p4" }, wantErr: true},
		{name: "port zero", mutate: func(i *Instance) { i.Port = 0 }, wantErr: true},
		{name: "security too high", mutate: func(i *Instance) { i.SecurityLevel = 5 }, wantErr: true},
		{name: "bad ssl prefix", mutate: func(i *Instance) { i.SSL = true; i.SSLPrefix = "ssl" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := DefaultInstance()
			tt.mutate(&inst)
			err := inst.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidInstance)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
