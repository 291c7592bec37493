package gate

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewClaims returns claims for a token valid from now for ttl. sub may be
// empty.
func NewClaims(sub string, now time.Time, ttl time.Duration) jwt.MapClaims {
	claims := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}

	if sub != "" {
		claims["sub"] = sub
	}

	return claims
}

// Sign produces an RS256 token over claims. The output uses the URL-safe
// alphabet, which the gate accepts alongside the standard one.
func Sign(claims jwt.Claims, key *rsa.PrivateKey) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("gate: signing token: %w", err)
	}

	return s, nil
}

// LoadPrivateKey reads a PEM RSA private key (PKCS#1 or PKCS#8).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gate: reading private key: %w", err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("gate: parsing private key %s: %w", path, err)
	}

	return key, nil
}
