package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// MintOptions controls dev-token minting.
type MintOptions struct {
	TenantID string
	Roles    []string
	Issuer   string
	Lifetime time.Duration
}

// Mint signs a development token for the given tenant. Production tokens are
// issued by the identity collaborator; this exists for local testing and the
// `token` subcommand.
func Mint(privateKeyPEM []byte, opts MintOptions) (string, error) {
	if opts.TenantID == "" {
		return "", errors.New("tenant id is required")
	}
	if opts.Issuer == "" {
		return "", errors.New("issuer is required")
	}

	lifetime := opts.Lifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    opts.Issuer,
			Subject:   opts.TenantID,
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		TenantID: opts.TenantID,
		Roles:    opts.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(key)
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in private key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}
