// Package tlsprov makes sure an SSL-enabled instance has a usable private key
// and certificate in the SDP ssl directory before the server starts.
//
// Existing material is verified and its permissions normalized. Missing
// material is generated either by p4d itself (p4d -Gc) or by the built-in
// ECDSA generator, with the server stopped for the duration when it was
// running. The resulting certificate fingerprint is reported in the same
// format clients see from p4 trust.
package tlsprov
