// Package p4 wraps the administrative operations of the external Helix Core
// binaries (p4, p4d) and the SDP helper scripts behind typed methods.
//
// Every method goes through an interfaces.Runner and decides success from the
// structured command result; output is only parsed where the operation returns
// data (tagged configure output, the server version banner).
package p4
