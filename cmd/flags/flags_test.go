package flags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func instanceFromArgs(t *testing.T, args ...string) (interfaces.Instance, error) {
	t.Helper()
	var (
		inst   interfaces.Instance
		parsed error
	)
	app := &cli.App{
		Flags: InstanceFlags,
		Action: func(cCtx *cli.Context) error {
			inst, parsed = InstanceFromCLI(cCtx)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return inst, parsed
}

func writeVars(t *testing.T, root, content string) {
	t.Helper()
	inst := interfaces.DefaultInstance()
	inst.SDPRoot = root
	require.NoError(t, os.MkdirAll(filepath.Dir(inst.VarsFile()), 0o755))
	require.NoError(t, os.WriteFile(inst.VarsFile(), []byte(content), 0o644))
}

func TestInstanceFromCLI_Defaults(t *testing.T) {
	root := t.TempDir()
	inst, err := instanceFromArgs(t, "--sdp-root", root)
	require.NoError(t, err)

	want := interfaces.DefaultInstance()
	want.SDPRoot = root
	assert.Equal(t, want, inst)
}

func TestInstanceFromCLI_Environment(t *testing.T) {
	root := t.TempDir()
	t.Setenv("P4_SDP_ROOT", root)
	t.Setenv("P4_INSTANCE", "2")
	t.Setenv("P4_PORT", "2666")
	t.Setenv("P4_UNICODE", "true")

	inst, err := instanceFromArgs(t)
	require.NoError(t, err)
	assert.Equal(t, "2", inst.ID)
	assert.Equal(t, 2666, inst.Port)
	assert.True(t, inst.Unicode)
	assert.Equal(t, root, inst.SDPRoot)
}

func TestInstanceFromCLI_KeepsExistingSSL(t *testing.T) {
	root := t.TempDir()
	writeVars(t, root, "export P4PORT=ssl:1666\n")

	inst, err := instanceFromArgs(t, "--sdp-root", root)
	require.NoError(t, err)
	assert.True(t, inst.SSL)
	assert.Equal(t, "ssl:localhost:1666", inst.P4Port())

	inst, err = instanceFromArgs(t, "--sdp-root", root, "--ssl=false")
	require.NoError(t, err)
	assert.False(t, inst.SSL)
}

func TestInstanceFromCLI_Invalid(t *testing.T) {
	cases := map[string][]string{
		"port":        {"--port", "70000"},
		"relative":    {"--sdp-root", "p4"},
		"security":    {"--security-level", "9"},
		"ssl prefix":  {"--ssl", "--ssl-prefix", "ssl"},
		"instance id": {"--instance", "../1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if name != "relative" {
				args = append([]string{"--sdp-root", t.TempDir()}, args...)
			}
			_, err := instanceFromArgs(t, args...)
			require.ErrorIs(t, err, interfaces.ErrInvalidInstance)
		})
	}
}
