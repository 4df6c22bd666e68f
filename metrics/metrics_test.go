package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *MetricsServer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsServer(t *testing.T) {
	m, err := New("helix", "")
	require.NoError(t, err)

	m.SetServerUp(true)
	m.ProvisioningRun("first_run")
	m.ProvisioningRun("reconcile")
	m.ProvisioningRun("reconcile")
	m.StopEscalation("sigkill")

	body := scrape(t, m)
	assert.Contains(t, body, "helix_server_up 1")
	assert.Contains(t, body, `helix_provisioning_runs_total{mode="first_run"} 1`)
	assert.Contains(t, body, `helix_provisioning_runs_total{mode="reconcile"} 2`)
	assert.Contains(t, body, `helix_stop_escalations_total{stage="sigkill"} 1`)
	assert.Contains(t, body, "go_goroutines")

	m.SetServerUp(false)
	assert.Contains(t, scrape(t, m), "helix_server_up 0")
}

func TestNilRecorders(t *testing.T) {
	var m *MetricsServer
	assert.NotPanics(t, func() {
		m.SetServerUp(true)
		m.ProvisioningRun("first_run")
		m.StopEscalation("port_owner")
	})
}
