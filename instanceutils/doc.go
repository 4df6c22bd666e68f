// Package instanceutils provides the filesystem helpers shared by the
// instance provisioning subpackages: service account lookup, ownership
// changes that only apply when running as root, and atomic file writes.
//
// # Subpackages
//
//   - tlsprov: creates, verifies and fingerprints the server's TLS material
//   - secrets: resolves, generates and stores the super user password
//   - provision: the first-run and reconcile state machine for an SDP instance
package instanceutils
