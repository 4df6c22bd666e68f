package tlsprov

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/ruteri/helix-container/command"
	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/cryptoutils"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/p4"
	"github.com/ruteri/helix-container/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstance(t *testing.T) interfaces.Instance {
	inst := interfaces.DefaultInstance()
	inst.SDPRoot = t.TempDir()
	inst.SSL = true
	inst.MasterHost = "p4.example.com"
	return inst
}

func mode(t *testing.T, path string) os.FileMode {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Mode().Perm()
}

type fakeServer struct {
	state process.State
	calls []string
}

func (f *fakeServer) Status(context.Context) (process.State, error) {
	f.calls = append(f.calls, "status")
	return f.state, nil
}

func (f *fakeServer) Start(context.Context) error {
	f.calls = append(f.calls, "start")
	f.state = process.StateRunning
	return nil
}

func (f *fakeServer) Stop(context.Context, time.Duration) error {
	f.calls = append(f.calls, "stop")
	f.state = process.StateStopped
	return nil
}

func TestEnsure_Disabled(t *testing.T) {
	inst := testInstance(t)
	inst.SSL = false

	m, report, err := New(Config{Instance: inst, Log: common.DiscardLogger()}).Ensure(context.Background())
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, report.Failed())
	assert.NoDirExists(t, inst.SSLDir())
}

func TestEnsure_GeneratesAndReuses(t *testing.T) {
	inst := testInstance(t)
	p := New(Config{Instance: inst, Log: common.DiscardLogger()})

	m, report, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.True(t, m.Generated)
	assert.NotEmpty(t, m.Fingerprint)

	assert.Equal(t, DirPerm, mode(t, inst.SSLDir()))
	assert.Equal(t, KeyPerm, mode(t, m.KeyPath))
	assert.Equal(t, CertPerm, mode(t, m.CertPath))

	config, err := os.ReadFile(filepath.Join(inst.SSLDir(), ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(config), "CN=p4.example.com\n")
	assert.Contains(t, string(config), "SUBJECT_ALT_NAMES=DNS:p4.example.com,DNS:localhost,IP:127.0.0.1\n")

	// loosened permissions are normalized on the next run
	require.NoError(t, os.Chmod(m.KeyPath, 0o644))

	again, _, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.False(t, again.Generated)
	assert.Equal(t, m.Fingerprint, again.Fingerprint)
	assert.Equal(t, KeyPerm, mode(t, m.KeyPath))
}

func TestEnsure_StopsAndRestartsRunningServer(t *testing.T) {
	inst := testInstance(t)
	server := &fakeServer{state: process.StateRunning}

	_, _, err := New(Config{Instance: inst, Log: common.DiscardLogger(), Server: server}).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "stop", "start"}, server.calls)
}

func TestEnsure_LeavesStoppedServerAlone(t *testing.T) {
	inst := testInstance(t)
	server := &fakeServer{state: process.StateStopped}

	_, _, err := New(Config{Instance: inst, Log: common.DiscardLogger(), Server: server}).Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"status"}, server.calls)
}

func TestEnsure_RejectsMismatchedPair(t *testing.T) {
	inst := testInstance(t)
	require.NoError(t, os.MkdirAll(inst.SSLDir(), 0o700))

	keyA, _, err := cryptoutils.GenerateSelfSigned(cryptoutils.DefaultCertRequest(""))
	require.NoError(t, err)
	_, certB, err := cryptoutils.GenerateSelfSigned(cryptoutils.DefaultCertRequest(""))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(inst.SSLDir(), KeyFile), keyA, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(inst.SSLDir(), CertFile), certB, 0o644))

	_, report, err := New(Config{Instance: inst, Log: common.DiscardLogger()}).Ensure(context.Background())
	require.ErrorIs(t, err, cryptoutils.ErrKeyMismatch)
	assert.True(t, report.Failed())
}

func TestVerify(t *testing.T) {
	inst := testInstance(t)
	p := New(Config{Instance: inst, Log: common.DiscardLogger()})
	m, _, err := p.Ensure(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Chmod(m.CertPath, 0o600))
	report := interfaces.NewReport("tls", nil)
	require.NoError(t, p.Verify(report))
	assert.Len(t, report.Warnings, 1)

	require.NoError(t, os.Chmod(m.KeyPath, 0o640))
	require.ErrorIs(t, p.Verify(report), ErrInsecureKey)

	require.NoError(t, os.Chmod(m.KeyPath, 0o400))
	require.NoError(t, p.Verify(report))

	require.NoError(t, os.Remove(m.CertPath))
	require.ErrorIs(t, p.Verify(report), ErrMissingMaterial)
}

func TestP4dGenerator(t *testing.T) {
	inst := testInstance(t)
	runner := command.NewScriptedRunner()
	runner.On("p4d -Gc", func(cmd interfaces.Command, _ string) (*interfaces.Result, error) {
		require.True(t, slices.Contains(cmd.Env, "P4SSLDIR="+inst.SSLDir()))
		key, cert, err := cryptoutils.GenerateSelfSigned(cryptoutils.DefaultCertRequest("localhost"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(inst.SSLDir(), KeyFile), key, 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(inst.SSLDir(), CertFile), cert, 0o644))
		return &interfaces.Result{Command: cmd.String()}, nil
	})

	client := p4.NewClient(runner, inst, common.DiscardLogger())
	p := New(Config{Instance: inst, Log: common.DiscardLogger(), Generator: P4dGenerator{Client: client}})

	m, _, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Generated)
	assert.Equal(t, 1, runner.Count("p4d -Gc"))
}

func TestP4dGenerator_Failure(t *testing.T) {
	inst := testInstance(t)
	runner := command.NewScriptedRunner().OnExit("p4d -Gc", 1, "")
	client := p4.NewClient(runner, inst, common.DiscardLogger())

	_, report, err := New(Config{Instance: inst, Log: common.DiscardLogger(), Generator: P4dGenerator{Client: client}}).Ensure(context.Background())
	require.Error(t, err)
	assert.True(t, report.Failed())
}
