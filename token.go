package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdindex/internal/gate"
)

const defaultTokenTTL = time.Hour

func newTokenCmd() *cobra.Command {
	var (
		keyPath  string
		subject  string
		keyID    string
		ttl      time.Duration
		printJWK bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed request token",
		Long: `Sign a request token with an RSA private key. Append it to download URLs
as ?token=<value>.

With --jwk, print the public half of the key as a JWK instead, suitable for
gate.public_key_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if printJWK {
				return runTokenJWK(cmd.OutOrStdout(), keyPath, keyID)
			}

			return runToken(cmd.OutOrStdout(), keyPath, subject, ttl, time.Now(), flagJSON)
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "PEM RSA private key")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	cmd.Flags().StringVar(&subject, "sub", "", "subject claim")
	cmd.Flags().BoolVar(&printJWK, "jwk", false, "print the public JWK instead of a token")
	cmd.Flags().StringVar(&keyID, "kid", "", "key id for --jwk output")

	_ = cmd.MarkFlagRequired("key")

	return cmd
}

// tokenOutput is the JSON form of a minted token.
type tokenOutput struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func runToken(w io.Writer, keyPath, subject string, ttl time.Duration, now time.Time, asJSON bool) error {
	if ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	key, err := gate.LoadPrivateKey(keyPath)
	if err != nil {
		return err
	}

	tok, err := gate.Sign(gate.NewClaims(subject, now, ttl), key)
	if err != nil {
		return err
	}

	if !asJSON {
		_, err = fmt.Fprintln(w, tok)
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(tokenOutput{
		Token:     tok,
		ExpiresAt: now.Add(ttl).UTC().Format(time.RFC3339),
	})
}

func runTokenJWK(w io.Writer, keyPath, keyID string) error {
	key, err := gate.LoadPrivateKey(keyPath)
	if err != nil {
		return err
	}

	pub, err := gate.PublicJWK(&key.PublicKey, keyID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(pub)
}
