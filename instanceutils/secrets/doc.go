// Package secrets resolves the super user password of an instance.
//
// The password comes from an explicit value (P4_PASSWD), from a configured
// store, or is generated. The file store keeps it where the SDP automation
// scripts expect it; the Vault store keeps it in a KV v2 mount.
package secrets
