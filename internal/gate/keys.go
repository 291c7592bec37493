package gate

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// ErrNoKey is returned when key material holds no usable RSA public key.
var ErrNoKey = errors.New("gate: no RSA public key found")

// ParsePublicKey reads an RSA public key from PEM (PKIX, PKCS#1 or a
// certificate) or from JSON holding a JWK or a JWK set. For a set the first
// key is used. A private JWK is reduced to its public half.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoKey
	}

	if data[0] == '{' {
		return parseJWK(data)
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("gate: parsing PEM public key: %w", err)
	}

	return key, nil
}

func parseJWK(data []byte) (*rsa.PublicKey, error) {
	set, err := jwk.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("gate: parsing JWK: %w", err)
	}

	key, ok := set.Key(0)
	if !ok {
		return nil, ErrNoKey
	}

	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return nil, fmt.Errorf("gate: deriving public JWK: %w", err)
	}

	var rsaKey rsa.PublicKey
	if err := pub.Raw(&rsaKey); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoKey, err)
	}

	return &rsaKey, nil
}

// LoadPublicKey reads and parses the key file at path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gate: reading public key: %w", err)
	}

	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return key, nil
}

// PublicJWK renders key as a JWK with alg RS256, for distributing the
// verification key to other services.
func PublicJWK(key *rsa.PublicKey, kid string) (jwk.Key, error) {
	k, err := jwk.FromRaw(key)
	if err != nil {
		return nil, fmt.Errorf("gate: building JWK: %w", err)
	}

	_ = k.Set(jwk.AlgorithmKey, jwt.SigningMethodRS256.Alg())
	_ = k.Set(jwk.KeyUsageKey, "sig")

	if kid != "" {
		_ = k.Set(jwk.KeyIDKey, kid)
	}

	return k, nil
}
