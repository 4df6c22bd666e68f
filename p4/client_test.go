package p4

import (
	"context"
	"strings"
	"testing"

	"github.com/ruteri/helix-container/command"
	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() (*Client, *command.ScriptedRunner) {
	runner := command.NewScriptedRunner()
	inst := interfaces.DefaultInstance()
	return NewClient(runner, inst, common.DiscardLogger()), runner
}

func TestClient_ConfigureShow(t *testing.T) {
	c, runner := newTestClient()
	runner.OnExit("p4 -ztag configure show monitor", 0, "... Type configure\n... Name monitor\n... Value 1\n")

	v, ok, err := c.ConfigureShow(context.Background(), "monitor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	v, ok, err = c.ConfigureShow(context.Background(), "journalPrefix")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestClient_SetPasswordUsesStdin(t *testing.T) {
	c, runner := newTestClient()

	require.NoError(t, c.SetPassword(context.Background(), "s3cret"))
	assert.Equal(t, "s3cret\ns3cret\n", runner.StdinFor("p4 passwd"))
	for _, call := range runner.Calls() {
		assert.NotContains(t, call, "s3cret")
	}
}

func TestClient_ErrorsCarryExitStatus(t *testing.T) {
	c, runner := newTestClient()
	runner.OnExit("p4 configure set", 1, "")

	err := c.ConfigureSet(context.Background(), "security", "4")
	var exitErr *interfaces.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.Result.ExitCode)
}

func TestClient_LiveCheckpointUsesSDPScript(t *testing.T) {
	c, runner := newTestClient()
	require.NoError(t, c.LiveCheckpoint(context.Background()))
	assert.Equal(t, []string{"live_checkpoint.sh 1"}, runner.Calls())
}

func TestClient_ServerVersion(t *testing.T) {
	c, runner := newTestClient()
	runner.OnExit("p4d -V", 0, "Rev. P4D/LINUX26X86_64/2023.2/2519561 (2023/12/04).\n")

	v, err := c.ServerVersion(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(v.String(), "P4D/"))
}
