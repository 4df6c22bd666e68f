package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSelfSigned(t *testing.T) {
	req := DefaultCertRequest("p4.example.com")
	keyPEM, certPEM, err := GenerateSelfSigned(req)
	require.NoError(t, err)

	_, err = NewTLSKey(keyPEM)
	require.NoError(t, err)
	cert, err := NewTLSCert(certPEM)
	require.NoError(t, err)

	x, err := cert.GetX509Cert()
	require.NoError(t, err)
	assert.Equal(t, "p4.example.com", x.Subject.CommonName)
	assert.ElementsMatch(t, []string{"p4.example.com", "localhost"}, x.DNSNames)
	require.Len(t, x.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", x.IPAddresses[0].String())

	expiring, err := cert.ExpiresWithin(24 * time.Hour)
	require.NoError(t, err)
	assert.False(t, expiring)

	require.NoError(t, VerifyKeyPair(keyPEM, certPEM))
}

func TestVerifyKeyPair_Mismatch(t *testing.T) {
	keyA, _, err := GenerateSelfSigned(DefaultCertRequest(""))
	require.NoError(t, err)
	_, certB, err := GenerateSelfSigned(DefaultCertRequest(""))
	require.NoError(t, err)

	require.ErrorIs(t, VerifyKeyPair(keyA, certB), ErrKeyMismatch)
	require.Error(t, VerifyKeyPair([]byte("not a key"), certB))
	require.Error(t, VerifyKeyPair(keyA, []byte("not a cert")))
}

func TestVerifyKeyPair_PKCS1RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, VerifyKeyPair(keyPEM, certPEM))
}

func TestVerifyKeyPair_Ed25519(t *testing.T) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(43),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, VerifyKeyPair(keyPEM, certPEM))
}

func TestFingerprint(t *testing.T) {
	_, certPEM, err := GenerateSelfSigned(DefaultCertRequest("localhost"))
	require.NoError(t, err)

	fp, err := FingerprintPEM(certPEM)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^([0-9A-F]{2}:){31}[0-9A-F]{2}$`), fp)

	x, err := TLSCert(certPEM).GetX509Cert()
	require.NoError(t, err)
	sum := sha256.Sum256(x.Raw)
	decoded, err := hex.DecodeString(strings.ReplaceAll(fp, ":", ""))
	require.NoError(t, err)
	assert.Equal(t, sum[:], decoded)
}
