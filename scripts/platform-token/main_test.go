package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crm-approvals/internal/platform/rest"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, key
}

func TestPrintAssertion(t *testing.T) {
	path, key := writeKey(t)
	var out bytes.Buffer
	err := printAssertion(&out, rest.AuthConfig{
		Flow:           rest.AuthJWTBearer,
		TokenURL:       "https://login.crm.invalid/services/oauth2/token",
		ClientID:       "client-1",
		Username:       "reviewer@example.com",
		PrivateKeyPath: path,
	})
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(out.String()), &claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "reviewer@example.com", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"https://login.crm.invalid"}, claims.Audience)
}

func TestPrintAssertion_RequiresJWTFlow(t *testing.T) {
	err := printAssertion(&bytes.Buffer{}, rest.AuthConfig{Flow: rest.AuthStatic})
	assert.ErrorContains(t, err, "jwt_bearer")
}

func TestDescribeToken(t *testing.T) {
	tok := (&oauth2.Token{
		AccessToken: "secret-token",
		TokenType:   "Bearer",
		Expiry:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}).WithExtra(map[string]any{"instance_url": "https://acme.crm.invalid"})

	var out bytes.Buffer
	describeToken(&out, tok, false)
	assert.Contains(t, out.String(), "expires:      2026-01-02T03:04:05Z")
	assert.Contains(t, out.String(), "instance_url: https://acme.crm.invalid")
	assert.NotContains(t, out.String(), "secret-token")

	out.Reset()
	describeToken(&out, tok, true)
	assert.Contains(t, out.String(), "access_token: secret-token")
}
