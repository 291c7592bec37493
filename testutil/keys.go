package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/tonimelisma/gdindex/internal/gate"
)

var (
	rsaOnce sync.Once
	rsaKey  *rsa.PrivateKey
	rsaErr  error
)

// RSAKey returns a 2048-bit key shared by every test in the binary.
func RSAKey(tb testing.TB) *rsa.PrivateKey {
	tb.Helper()

	rsaOnce.Do(func() {
		rsaKey, rsaErr = rsa.GenerateKey(rand.Reader, 2048)
	})

	if rsaErr != nil {
		tb.Fatalf("generating RSA key: %v", rsaErr)
	}

	return rsaKey
}

// SignToken mints a token for key that expires ttl from now.
func SignToken(tb testing.TB, key *rsa.PrivateKey, ttl time.Duration) string {
	tb.Helper()

	tok, err := gate.Sign(gate.NewClaims("test", time.Now(), ttl), key)
	if err != nil {
		tb.Fatalf("signing token: %v", err)
	}

	return tok
}

// PublicKeyPEM encodes key's public half as a PKIX PEM block.
func PublicKeyPEM(tb testing.TB, key *rsa.PrivateKey) []byte {
	tb.Helper()

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		tb.Fatalf("marshaling public key: %v", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// PrivateKeyPEM encodes key as a PKCS#1 PEM block.
func PrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}
