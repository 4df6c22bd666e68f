/*
Package httpserver implements the status and health HTTP server that runs next to the
managed server inside the container.

# Endpoints

  - GET /livez - Liveness check, always 200 while the orchestrator runs
  - GET /readyz - 200 when the orchestrator is ready and the managed server is running
  - GET /api/status - JSON status: instance, port, TLS fingerprint, process state, provisioning
  - GET /drain - Mark the instance as not ready
  - GET /undrain - Mark the instance as ready
  - /debug - pprof, when enabled

Prometheus metrics are served on a separate address (see package metrics).
*/
package httpserver
