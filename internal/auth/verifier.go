// Package auth verifies bearer credentials and derives request principals.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Reason classifies why a credential was rejected.
type Reason string

const (
	ReasonMalformed        Reason = "malformed"
	ReasonExpired          Reason = "expired"
	ReasonInvalidSignature Reason = "invalid_signature"
)

// AuthError is returned when a credential fails verification.
type AuthError struct {
	Reason  Reason
	Message string
}

func (e *AuthError) Error() string {
	if e == nil {
		return "authentication failed"
	}
	if e.Message != "" {
		return fmt.Sprintf("authentication failed (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("authentication failed (%s)", e.Reason)
}

// Claims is the JWT claim set issued to gateway tenants.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Verifier validates signed bearer tokens against an RSA public key and a
// configured issuer. Verification is a pure function of the token and the
// configured key; the same valid token always yields the same principal.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewVerifier builds a verifier from a PEM-encoded RSA public key.
func NewVerifier(publicKeyPEM []byte, issuer string) (*Verifier, error) {
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("issuer is required")
	}

	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	return &Verifier{publicKey: key, issuer: issuer}, nil
}

// Verify validates the credential and extracts the principal.
func (v *Verifier) Verify(credential string) (*Principal, error) {
	if v == nil || v.publicKey == nil {
		return nil, &AuthError{Reason: ReasonInvalidSignature, Message: "verifier not configured"}
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &AuthError{Reason: ReasonMalformed, Message: "empty credential"}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	if err != nil {
		return nil, classifyParseError(err)
	}
	if !token.Valid {
		return nil, &AuthError{Reason: ReasonInvalidSignature, Message: "token is not valid"}
	}

	// Tokens signed by anyone other than the configured issuer are rejected
	// even when the signature itself checks out against the key.
	if claims.Issuer != v.issuer {
		return nil, &AuthError{Reason: ReasonInvalidSignature, Message: "issuer mismatch"}
	}

	if strings.TrimSpace(claims.TenantID) == "" {
		return nil, &AuthError{Reason: ReasonMalformed, Message: "tenant_id claim is missing"}
	}
	if claims.ExpiresAt == nil {
		return nil, &AuthError{Reason: ReasonMalformed, Message: "exp claim is missing"}
	}

	roles := make([]Role, 0, len(claims.Roles))
	for _, name := range claims.Roles {
		role, _ := ParseRole(name)
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		roles = append(roles, RoleStandard)
	}

	principal := &Principal{
		TenantID:  claims.TenantID,
		Roles:     roles,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		principal.IssuedAt = claims.IssuedAt.Time
	}

	return principal, nil
}

func classifyParseError(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &AuthError{Reason: ReasonExpired, Message: "token is expired"}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &AuthError{Reason: ReasonInvalidSignature, Message: "signature verification failed"}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &AuthError{Reason: ReasonMalformed, Message: "token could not be parsed"}
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return &AuthError{Reason: ReasonExpired, Message: "token is not valid yet"}
	default:
		return &AuthError{Reason: ReasonInvalidSignature, Message: err.Error()}
	}
}

func parsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in public key")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// PKCS#1 keys are still common for RSA material.
		if key, pkcs1Err := x509.ParsePKCS1PublicKey(block.Bytes); pkcs1Err == nil {
			return key, nil
		}
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
