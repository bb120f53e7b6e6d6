package rest

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Auth flows.
const (
	AuthClientCredentials = "client_credentials"
	AuthJWTBearer         = "jwt_bearer"
	AuthStatic            = "static"
)

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	// assertionLifetime is the validity of one signed assertion.
	assertionLifetime = 3 * time.Minute
	// DefaultSessionLifetime is assumed when the token response has no
	// expires_in.
	DefaultSessionLifetime = 30 * time.Minute
)

// AuthConfig selects and configures a token flow.
type AuthConfig struct {
	Flow         string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// Username is the subject of JWT bearer assertions.
	Username string
	// Audience of JWT bearer assertions; defaults to the token URL's origin.
	Audience string
	// PrivateKeyPath is a PEM RSA key (PKCS#1 or PKCS#8) for JWT bearer.
	PrivateKeyPath string
	AccessToken    string
	// SessionLifetime overrides DefaultSessionLifetime.
	SessionLifetime time.Duration
}

// NewTokenSource returns a caching token source for cfg.Flow.
func NewTokenSource(ctx context.Context, cfg AuthConfig) (oauth2.TokenSource, error) {
	// Token requests carry the same tracing as API calls.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	switch cfg.Flow {
	case AuthClientCredentials, "":
		if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("client credentials flow requires token_url, client_id and client_secret")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.TokenSource(ctx), nil
	case AuthJWTBearer:
		if cfg.TokenURL == "" || cfg.ClientID == "" || cfg.Username == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("jwt bearer flow requires token_url, client_id, username and private_key_file")
		}
		key, err := LoadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		src, err := NewJWTBearerSource(ctx, cfg, key)
		if err != nil {
			return nil, err
		}
		return oauth2.ReuseTokenSource(nil, src), nil
	case AuthStatic:
		if cfg.AccessToken == "" {
			return nil, fmt.Errorf("static auth requires an access token")
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}), nil
	}
	return nil, fmt.Errorf("unknown platform auth flow %q", cfg.Flow)
}

// JWTBearerSource exchanges signed assertions for access tokens
// (RFC 7523).
type JWTBearerSource struct {
	ctx      context.Context
	client   *http.Client
	tokenURL string
	clientID string
	subject  string
	audience string
	lifetime time.Duration
	key      *rsa.PrivateKey
	now      func() time.Time
}

// NewJWTBearerSource returns an uncached JWT bearer token source. The HTTP
// client is taken from ctx like the oauth2 package does.
func NewJWTBearerSource(ctx context.Context, cfg AuthConfig, key *rsa.PrivateKey) (*JWTBearerSource, error) {
	audience := cfg.Audience
	if audience == "" {
		u, err := url.Parse(cfg.TokenURL)
		if err != nil {
			return nil, fmt.Errorf("invalid token URL: %w", err)
		}
		audience = u.Scheme + "://" + u.Host
	}
	client, _ := ctx.Value(oauth2.HTTPClient).(*http.Client)
	if client == nil {
		client = http.DefaultClient
	}
	lifetime := cfg.SessionLifetime
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &JWTBearerSource{
		ctx:      ctx,
		client:   client,
		tokenURL: cfg.TokenURL,
		clientID: cfg.ClientID,
		subject:  cfg.Username,
		audience: audience,
		lifetime: lifetime,
		key:      key,
		now:      time.Now,
	}, nil
}

// Assertion signs the JWT sent to the token endpoint.
func (s *JWTBearerSource) Assertion() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.subject,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	TokenType        string      `json:"token_type"`
	InstanceURL      string      `json:"instance_url"`
	ExpiresIn        json.Number `json:"expires_in"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// Token implements oauth2.TokenSource.
func (s *JWTBearerSource) Token() (*oauth2.Token, error) {
	assertion, err := s.Assertion()
	if err != nil {
		return nil, err
	}
	form := url.Values{"grant_type": {jwtBearerGrant}, "assertion": {assertion}}
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var body tokenResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode token response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		msg := body.ErrorDescription
		if msg == "" {
			msg = body.Error
		}
		return nil, &oauth2.RetrieveError{Response: resp, Body: raw, ErrorCode: body.Error, ErrorDescription: msg}
	}

	lifetime := s.lifetime
	if secs, err := body.ExpiresIn.Int64(); err == nil && secs > 0 {
		lifetime = time.Duration(secs) * time.Second
	}
	tok := &oauth2.Token{
		AccessToken: body.AccessToken,
		TokenType:   body.TokenType,
		Expiry:      s.now().Add(lifetime),
	}
	if body.InstanceURL != "" {
		tok = tok.WithExtra(map[string]any{"instance_url": body.InstanceURL})
	}
	return tok, nil
}

// LoadPrivateKey reads a PEM RSA private key in PKCS#1 or PKCS#8 form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key pem")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type")
	}
	return rsaKey, nil
}
