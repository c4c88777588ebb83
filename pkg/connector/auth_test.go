package connector

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// TestAuthorize tests header placement per auth strategy
func TestAuthorize(t *testing.T) {
	tests := []struct {
		name       string
		set        types.CredentialSet
		wantHeader string
		wantValue  string
		wantErr    bool
	}{
		{
			name: "oauth bearer",
			set: types.CredentialSet{
				AuthType: types.AuthTypeOAuth,
				Values:   map[string]string{"access_token": "tok-oauth"},
			},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok-oauth",
		},
		{
			name: "bot token bearer",
			set: types.CredentialSet{
				AuthType: types.AuthTypeBotToken,
				Values:   map[string]string{"bot_token": "tok-bot"},
			},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok-bot",
		},
		{
			name: "api key default header",
			set: types.CredentialSet{
				AuthType: types.AuthTypeAPIKey,
				Values:   map[string]string{"api_key": "key-123"},
			},
			wantHeader: "X-Api-Key",
			wantValue:  "key-123",
		},
		{
			name: "api key custom header",
			set: types.CredentialSet{
				AuthType: types.AuthTypeAPIKey,
				Values:   map[string]string{"api_key": "key-123", "api_key_header": "X-Acme-Key"},
			},
			wantHeader: "X-Acme-Key",
			wantValue:  "key-123",
		},
		{
			name: "jwt bearer",
			set: types.CredentialSet{
				AuthType: types.AuthTypeJWT,
				Values:   map[string]string{"token": "tok-jwt"},
			},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok-jwt",
		},
		{
			name: "empty auth type is a no-op",
			set:  types.CredentialSet{},
		},
		{
			name: "oauth missing token",
			set: types.CredentialSet{
				AuthType: types.AuthTypeOAuth,
				Values:   map[string]string{},
			},
			wantErr: true,
		},
		{
			name:    "unknown auth type",
			set:     types.CredentialSet{AuthType: "telepathy"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "http://example.com", nil)
			require.NoError(t, err)

			err = Authorize(req, tt.set)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantHeader != "" {
				assert.Equal(t, tt.wantValue, req.Header.Get(tt.wantHeader))
			} else {
				assert.Empty(t, req.Header)
			}
		})
	}
}

// TestServiceAccountAssertion tests JWT minting against a generated key
func TestServiceAccountAssertion(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	set := types.CredentialSet{
		AuthType: types.AuthTypeServiceAccount,
		Values: map[string]string{
			"client_email": "svc@example.com",
			"private_key":  string(keyPEM),
		},
	}

	signed, err := ServiceAccountAssertion(set, "https://oauth.example.com/token", []string{"read", "write"}, time.Hour)
	require.NoError(t, err)

	// The assertion verifies against the matching public key.
	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "svc@example.com", claims["iss"])
	assert.Equal(t, "https://oauth.example.com/token", claims["aud"])
	assert.Equal(t, "read write", claims["scope"])
}

// TestServiceAccountAssertionErrors tests the credential validation paths
func TestServiceAccountAssertionErrors(t *testing.T) {
	_, err := ServiceAccountAssertion(types.CredentialSet{}, "aud", nil, time.Hour)
	assert.Error(t, err)

	set := types.CredentialSet{Values: map[string]string{
		"client_email": "svc@example.com",
		"private_key":  "not pem at all",
	}}
	_, err = ServiceAccountAssertion(set, "aud", nil, time.Hour)
	assert.Error(t, err)
}
