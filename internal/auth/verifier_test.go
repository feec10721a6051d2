package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

const testIssuer = "modelgate"

func generateKeyPair(t *testing.T) (privatePEM, publicPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	publicPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	return privatePEM, publicPEM
}

func mintToken(t *testing.T, privatePEM []byte, opts MintOptions) string {
	t.Helper()

	token, err := Mint(privatePEM, opts)
	require.NoError(t, err)
	return token
}

func TestVerifyValidToken(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	token := mintToken(t, privatePEM, MintOptions{
		TenantID: "tenant-1",
		Roles:    []string{"premium"},
		Issuer:   testIssuer,
		Lifetime: time.Hour,
	})

	principal, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "tenant-1", principal.TenantID)
	require.Equal(t, []Role{RolePremium}, principal.Roles)
	require.Equal(t, RolePremium, principal.HighestRole())
}

func TestVerifyIsIdempotent(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	token := mintToken(t, privatePEM, MintOptions{
		TenantID: "tenant-1",
		Issuer:   testIssuer,
		Lifetime: time.Hour,
	})

	first, err := verifier.Verify(token)
	require.NoError(t, err)
	second, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestVerifyExpiredToken(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	// Mint manually with an exp in the past.
	key, err := parsePrivateKey(privatePEM)
	require.NoError(t, err)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		TenantID: "tenant-1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonExpired, authErr.Reason)
}

func TestVerifyMalformedToken(t *testing.T) {
	_, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	for _, credential := range []string{"", "not-a-jwt", "a.b"} {
		_, err := verifier.Verify(credential)
		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, ReasonMalformed, authErr.Reason)
	}
}

func TestVerifyWrongKeySignature(t *testing.T) {
	otherPrivatePEM, _ := generateKeyPair(t)
	_, publicPEM := generateKeyPair(t)

	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	token := mintToken(t, otherPrivatePEM, MintOptions{
		TenantID: "tenant-1",
		Issuer:   testIssuer,
		Lifetime: time.Hour,
	})

	_, err = verifier.Verify(token)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonInvalidSignature, authErr.Reason)
}

func TestVerifyIssuerMismatch(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	token := mintToken(t, privatePEM, MintOptions{
		TenantID: "tenant-1",
		Issuer:   "someone-else",
		Lifetime: time.Hour,
	})

	_, err = verifier.Verify(token)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonInvalidSignature, authErr.Reason)
}

func TestVerifyMissingTenant(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	key, err := parsePrivateKey(privatePEM)
	require.NoError(t, err)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonMalformed, authErr.Reason)
}

func TestVerifyDefaultsToStandardRole(t *testing.T) {
	privatePEM, publicPEM := generateKeyPair(t)
	verifier, err := NewVerifier(publicPEM, testIssuer)
	require.NoError(t, err)

	token := mintToken(t, privatePEM, MintOptions{
		TenantID: "tenant-1",
		Issuer:   testIssuer,
		Lifetime: time.Hour,
	})

	principal, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, []Role{RoleStandard}, principal.Roles)
}

func TestHighestRolePicksMostPermissive(t *testing.T) {
	principal := &Principal{
		TenantID: "tenant-1",
		Roles:    []Role{RoleStandard, RoleAdmin, RolePremium},
	}
	require.Equal(t, RoleAdmin, principal.HighestRole())
	require.True(t, principal.HasRole(RoleAdmin))
	require.False(t, principal.HasRole(RoleAdmin+1))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole("premium")
	require.True(t, ok)
	require.Equal(t, RolePremium, role)

	role, ok = ParseRole("unknown-role")
	require.False(t, ok)
	require.Equal(t, RoleStandard, role)
}
