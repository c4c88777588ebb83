package connector

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// Credential value keys shared across connectors.
const (
	credKeyAccessToken  = "access_token"
	credKeyAPIKey       = "api_key"
	credKeyBotToken     = "bot_token"
	credKeyToken        = "token"
	credKeyClientEmail  = "client_email"
	credKeyPrivateKey   = "private_key"
	credKeyAPIKeyHeader = "api_key_header"
)

// Authorize applies the credential set's auth strategy to an outgoing
// request. Connectors call it on every remote API request.
func Authorize(req *http.Request, set types.CredentialSet) error {
	switch set.AuthType {
	case types.AuthTypeOAuth:
		token := set.Values[credKeyAccessToken]
		if token == "" {
			return fmt.Errorf("oauth credentials missing %s", credKeyAccessToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case types.AuthTypeBotToken:
		token := set.Values[credKeyBotToken]
		if token == "" {
			return fmt.Errorf("bot credentials missing %s", credKeyBotToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case types.AuthTypeAPIKey:
		key := set.Values[credKeyAPIKey]
		if key == "" {
			return fmt.Errorf("api-key credentials missing %s", credKeyAPIKey)
		}
		header := set.Values[credKeyAPIKeyHeader]
		if header == "" {
			header = "X-Api-Key"
		}
		req.Header.Set(header, key)

	case types.AuthTypeJWT:
		token := set.Values[credKeyToken]
		if token == "" {
			return fmt.Errorf("jwt credentials missing %s", credKeyToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case types.AuthTypeServiceAccount:
		// Service accounts exchange an assertion for an access token out of
		// band; by request time the exchanged token is expected in values.
		token := set.Values[credKeyAccessToken]
		if token == "" {
			return fmt.Errorf("service-account credentials missing exchanged %s", credKeyAccessToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case "":
		// No credentials; local connectors.

	default:
		return fmt.Errorf("unknown auth type %q", set.AuthType)
	}
	return nil
}

// ServiceAccountAssertion mints the signed JWT a service-account token
// exchange requires. The credential set must carry the account email and a
// PEM-encoded RSA private key.
func ServiceAccountAssertion(set types.CredentialSet, audience string, scopes []string, ttl time.Duration) (string, error) {
	email := set.Values[credKeyClientEmail]
	keyPEM := set.Values[credKeyPrivateKey]
	if email == "" || keyPEM == "" {
		return "", fmt.Errorf("service-account credentials require %s and %s", credKeyClientEmail, credKeyPrivateKey)
	}

	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return "", fmt.Errorf("private key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		// Older exports use PKCS1.
		if rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(block.Bytes); rsaErr == nil {
			parsed = rsaKey
		} else {
			return "", fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": email,
		"sub": email,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if len(scopes) > 0 {
		scope := scopes[0]
		for _, s := range scopes[1:] {
			scope += " " + s
		}
		claims["scope"] = scope
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(parsed)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}
