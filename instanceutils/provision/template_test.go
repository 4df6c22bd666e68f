package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	inst := interfaces.DefaultInstance()
	inst.SSL = true
	inst.Domain = "example.com"

	out, err := RenderTemplate("P=REPL_ADMINPASS\nS=REPL_SSL_PREFIX\nI=p4_REPL_INSTANCE\n", Placeholders(inst, "REPL_TRICKY"))
	require.NoError(t, err)
	assert.Equal(t, "P=REPL_TRICKY\nS=ssl:\nI=p4_1\n", out, "values are not rescanned")

	_, err = RenderTemplate("A=REPL_NOPE\nB=REPL_NOPE\n", Placeholders(inst, "x"))
	require.ErrorIs(t, err, ErrUnresolvedPlaceholder)
	assert.Contains(t, err.Error(), "REPL_NOPE")
}

func TestPatchFilesysMin(t *testing.T) {
	out, changed := PatchFilesysMin(configureScript, "10M")
	assert.True(t, changed)
	assert.Contains(t, out, "filesys.P4ROOT.min=10M\n")
	assert.Contains(t, out, "filesys.P4JOURNAL.min=10M\n")
	assert.Contains(t, out, "server.depot.root=/p4/1/depots\n")

	_, changed = PatchFilesysMin(out, "10M")
	assert.False(t, changed)
}

func TestSSLConfigured(t *testing.T) {
	inst := interfaces.DefaultInstance()
	inst.SDPRoot = t.TempDir()
	require.NoError(t, os.MkdirAll(inst.ConfigDir(), 0o755))
	assert.False(t, SSLConfigured(inst))

	vars := filepath.Join(inst.ConfigDir(), "p4_1.vars")
	require.NoError(t, os.WriteFile(vars, []byte("export P4PORT=1666\n"), 0o644))
	assert.False(t, SSLConfigured(inst))

	require.NoError(t, os.WriteFile(vars, []byte("export P4USER=perforce\nexport P4PORT=\"ssl:1666\"\n"), 0o644))
	assert.True(t, SSLConfigured(inst))
}
