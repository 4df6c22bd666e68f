package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

// ErrKeyMismatch is returned when a certificate was not issued for the given key.
var ErrKeyMismatch = errors.New("private key does not match certificate")

// VerifyKeyPair checks that certPEM carries the public half of keyPEM.
func VerifyKeyPair(keyPEM, certPEM []byte) error {
	signer, err := TLSKey(keyPEM).GetSigner()
	if err != nil {
		return err
	}

	cert, err := TLSCert(certPEM).GetX509Cert()
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported public key type %T", signer.Public())
	}
	if !pub.Equal(cert.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

// Fingerprint is the SHA-256 digest of the certificate DER as colon-separated
// upper-case hex, the format p4d -Gf prints and p4 trust compares.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	encoded := strings.ToUpper(hex.EncodeToString(sum[:]))

	parts := make([]string, 0, len(sum))
	for i := 0; i < len(encoded); i += 2 {
		parts = append(parts, encoded[i:i+2])
	}
	return strings.Join(parts, ":")
}

// FingerprintPEM parses certPEM and returns its Fingerprint.
func FingerprintPEM(certPEM []byte) (string, error) {
	cert, err := TLSCert(certPEM).GetX509Cert()
	if err != nil {
		return "", err
	}
	return Fingerprint(cert), nil
}

// CertRequest describes the subject of a self-signed server certificate.
type CertRequest struct {
	Country      string
	State        string
	Locality     string
	Organization string
	Unit         string
	CommonName   string

	DNSNames    []string
	IPAddresses []net.IP

	ValidFor time.Duration
}

// DefaultValidity matches the lifetime p4d -Gc uses by default.
const DefaultValidity = 730 * 24 * time.Hour

// DefaultCertRequest returns the request used for a server reachable at host.
func DefaultCertRequest(host string) CertRequest {
	if host == "" {
		host = "localhost"
	}
	dns := []string{host}
	if host != "localhost" {
		dns = append(dns, "localhost")
	}
	return CertRequest{
		Country:      "US",
		State:        "CA",
		Locality:     "Alameda",
		Organization: "Perforce Autogen Cert",
		Unit:         "Helix Core",
		CommonName:   host,
		DNSNames:     dns,
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		ValidFor:     DefaultValidity,
	}
}

func (r CertRequest) subject() pkix.Name {
	name := pkix.Name{CommonName: r.CommonName}
	if r.Country != "" {
		name.Country = []string{r.Country}
	}
	if r.State != "" {
		name.Province = []string{r.State}
	}
	if r.Locality != "" {
		name.Locality = []string{r.Locality}
	}
	if r.Organization != "" {
		name.Organization = []string{r.Organization}
	}
	if r.Unit != "" {
		name.OrganizationalUnit = []string{r.Unit}
	}
	return name
}

// GenerateSelfSigned creates an ECDSA P-256 key and a self-signed server certificate.
// It returns the key as PKCS#8 PEM and the certificate as PEM.
func GenerateSelfSigned(req CertRequest) (keyPEM, certPEM []byte, err error) {
	if req.ValidFor <= 0 {
		req.ValidFor = DefaultValidity
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.subject(),
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(req.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              req.DNSNames,
		IPAddresses:           req.IPAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, privateKey.Public(), privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}

	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	return keyPEM, certPEM, nil
}
