// Package cryptoutils holds the certificate helpers used for the server's TLS
// material: PEM parsing, key/certificate pair verification, SHA-256
// fingerprints in the server's own format, and built-in self-signed generation.
package cryptoutils
