package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ruteri/helix-container/common"
	"github.com/ruteri/helix-container/interfaces"
	"github.com/ruteri/helix-container/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	state process.State
	err   error
}

func (f *fakeStatus) Status(context.Context) (process.State, error) { return f.state, f.err }

func newTestServer(t *testing.T, status *fakeStatus) (*Server, interfaces.Instance) {
	t.Helper()
	inst := interfaces.DefaultInstance()
	inst.SDPRoot = t.TempDir()
	inst.SSL = true

	srv, err := New(&HTTPServerConfig{
		Log:                      common.DiscardLogger(),
		GracefulShutdownDuration: time.Second,
	}, inst, status)
	require.NoError(t, err)
	return srv, inst
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestLivez(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStatus{})
	code, body := get(t, srv.Handler(), "/livez")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		status *fakeStatus
		code   int
	}{
		{name: "not marked ready", ready: false, status: &fakeStatus{state: process.StateRunning}, code: http.StatusServiceUnavailable},
		{name: "ready and running", ready: true, status: &fakeStatus{state: process.StateRunning}, code: http.StatusOK},
		{name: "ready but stopped", ready: true, status: &fakeStatus{state: process.StateStopped}, code: http.StatusServiceUnavailable},
		{name: "status failure", ready: true, status: &fakeStatus{err: errors.New("exec failed")}, code: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status)
			srv.MarkReady(tt.ready)
			code, _ := get(t, srv.Handler(), "/readyz")
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestDrainUndrain(t *testing.T) {
	srv, _ := newTestServer(t, &fakeStatus{state: process.StateRunning})
	srv.MarkReady(true)
	h := srv.Handler()

	_, body := get(t, h, "/drain")
	assert.Equal(t, "draining", body["status"])
	_, body = get(t, h, "/drain")
	assert.Equal(t, "already draining", body["status"])

	code, _ := get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	_, body = get(t, h, "/undrain")
	assert.Equal(t, "ready", body["status"])
	_, body = get(t, h, "/undrain")
	assert.Equal(t, "already ready", body["status"])

	code, _ = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestAPIStatus(t *testing.T) {
	srv, inst := newTestServer(t, &fakeStatus{state: process.StateRunning})
	srv.MarkReady(true)
	srv.SetFingerprint("AB:CD")
	require.NoError(t, os.WriteFile(inst.SetupMarker(), []byte("done\n"), 0o644))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, Status{
		Instance:    "1",
		Port:        "ssl:localhost:1666",
		SSL:         true,
		Fingerprint: "AB:CD",
		State:       process.StateRunning.String(),
		Ready:       true,
		Provisioned: true,
		Version:     common.Version,
	}, status)
}

func TestRunInBackgroundAndShutdown(t *testing.T) {
	inst := interfaces.DefaultInstance()
	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      common.DiscardLogger(),
		GracefulShutdownDuration: time.Second,
	}, inst, &fakeStatus{})
	require.NoError(t, err)

	srv.RunInBackground()
	srv.Shutdown()
	assert.False(t, srv.isReady.Load())
}
