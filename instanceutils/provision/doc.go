// Package provision decides whether an SDP instance needs first-run setup and
// drives either the one-time installation sequence or the idempotent
// reconciliation of an existing instance.
//
// First run renders the mkdirs configuration, lays out the instance through
// the SDP scripts, configures the server, sets the super user password and
// leaves the server stopped with a setup marker written. Reconciliation never
// repeats destructive steps: it only re-applies the critical configuration
// keys, refreshes TLS trust and login, and wires the broker when present.
package provision
