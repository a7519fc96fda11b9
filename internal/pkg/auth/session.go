package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/anicoll/harvia-integration/internal/pkg/endpoints"
)

const (
	initiateAuthTarget = "AWSCognitoIdentityProviderService.InitiateAuth"
	amzJSONContentType = "application/x-amz-json-1.1"
	// Renew when the id token has less than this left on its exp claim.
	renewLeeway = 5 * time.Minute
)

// Tokens is the triple issued by the identity provider. Readers always get a
// consistent copy; the session never exposes a half-updated triple.
type Tokens struct {
	Access  string
	Refresh string
	ID      string
}

type directory interface {
	Resolve(ctx context.Context, channel string) (endpoints.Document, error)
}

// Session owns the credentials and the current token triple. One Session is
// injected into every component that makes authenticated calls.
type Session struct {
	username   string
	password   string
	dir        directory
	httpClient *http.Client
	logger     *zap.Logger
	// idpURL overrides the regional cognito-idp endpoint, for tests.
	idpURL string

	mu     chan struct{} // held across the credential exchange; see lock()
	tokens Tokens
}

func NewSession(username, password string, dir directory) *Session {
	s := &Session{
		username:   username,
		password:   password,
		dir:        dir,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.L(),
		mu:         make(chan struct{}, 1),
	}
	return s
}

// WithIdentityProvider points the session at a non-default identity provider
// URL. Used by tests.
func (s *Session) WithIdentityProvider(url string) *Session {
	s.idpURL = url
	return s
}

// lock serializes token mutation. Concurrent renewals collapse naturally: the
// second caller re-checks freshness after acquiring and finds nothing to do.
func (s *Session) lock(ctx context.Context) error {
	select {
	case s.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) unlock() {
	<-s.mu
}

// Authenticate performs the initial credential exchange. It is a no-op while
// a token triple is held, so repeated calls are safe.
func (s *Session) Authenticate(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	if s.tokens.ID != "" {
		return nil
	}
	return s.passwordAuth(ctx)
}

// RenewIfNeeded refreshes the triple when the id token is expired or close to
// it. Returns true when the stored id token changed. A transport failure
// leaves the triple untouched and comes back as a TransientAuthError.
func (s *Session) RenewIfNeeded(ctx context.Context) (bool, error) {
	if err := s.lock(ctx); err != nil {
		return false, err
	}
	defer s.unlock()

	if s.tokens.ID == "" {
		if err := s.passwordAuth(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	if !tokenNeedsRenewal(s.tokens.ID) {
		return false, nil
	}
	return s.renew(ctx)
}

// Reauthenticate forces a token refresh regardless of expiry, falling back to
// a full credential exchange when the refresh token is no longer accepted.
// Called when a request was rejected as unauthorized.
func (s *Session) Reauthenticate(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	if s.tokens.Refresh != "" {
		if _, err := s.renew(ctx); err == nil {
			return nil
		}
		s.logger.Warn("token refresh rejected, falling back to credential exchange")
	}
	s.tokens = Tokens{}
	return s.passwordAuth(ctx)
}

// IDToken renews if needed and returns the current id token. Callers never
// read a stale token path.
func (s *Session) IDToken(ctx context.Context) (string, error) {
	if _, err := s.RenewIfNeeded(ctx); err != nil {
		if _, ok := err.(*CredentialError); ok {
			return "", err
		}
		s.logger.Warn("token renewal failed, using held token", zap.Error(err))
	}
	if err := s.lock(ctx); err != nil {
		return "", err
	}
	defer s.unlock()
	if s.tokens.ID == "" {
		return "", &CredentialError{Reason: "no session established"}
	}
	return s.tokens.ID, nil
}

// CurrentTokens returns a copy of the triple.
func (s *Session) CurrentTokens() Tokens {
	s.mu <- struct{}{}
	defer s.unlock()
	return s.tokens
}

func (s *Session) passwordAuth(ctx context.Context) error {
	doc, err := s.dir.Resolve(ctx, endpoints.ChannelUsers)
	if err != nil {
		return &TransientAuthError{Err: err}
	}
	s.logger.Debug("authenticating", zap.String("username", s.username))
	result, err := s.initiateAuth(ctx, doc, map[string]string{
		"USERNAME": s.username,
		"PASSWORD": s.password,
	}, "USER_PASSWORD_AUTH")
	if err != nil {
		return err
	}
	s.tokens = Tokens{
		Access:  result.AccessToken,
		Refresh: result.RefreshToken,
		ID:      result.IDToken,
	}
	s.logger.Info("authentication successful")
	return nil
}

// renew exchanges the refresh token. The provider omits a new refresh token
// on this flow, so the held one is kept.
func (s *Session) renew(ctx context.Context) (bool, error) {
	doc, err := s.dir.Resolve(ctx, endpoints.ChannelUsers)
	if err != nil {
		return false, &TransientAuthError{Err: err}
	}
	current := s.tokens.ID
	result, err := s.initiateAuth(ctx, doc, map[string]string{
		"REFRESH_TOKEN": s.tokens.Refresh,
	}, "REFRESH_TOKEN_AUTH")
	if err != nil {
		return false, err
	}
	s.tokens.Access = result.AccessToken
	s.tokens.ID = result.IDToken
	if result.RefreshToken != "" {
		s.tokens.Refresh = result.RefreshToken
	}
	if current != s.tokens.ID {
		s.logger.Debug("id token renewed")
		return true, nil
	}
	return false, nil
}

type authResult struct {
	AccessToken  string `json:"AccessToken"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
}

type authResponse struct {
	AuthenticationResult authResult `json:"AuthenticationResult"`
	Type                 string     `json:"__type"`
	Message              string     `json:"message"`
}

func (s *Session) initiateAuth(ctx context.Context, doc endpoints.Document, params map[string]string, flow string) (*authResult, error) {
	body, err := json.Marshal(map[string]any{
		"AuthFlow":       flow,
		"ClientId":       doc.ClientID,
		"AuthParameters": params,
	})
	if err != nil {
		return nil, err
	}

	url := s.idpURL
	if url == "" {
		region := doc.Region
		if region == "" {
			region = regionFromPoolID(doc.UserPoolID)
		}
		url = fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", region)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", amzJSONContentType)
	req.Header.Set("X-Amz-Target", initiateAuthTarget)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &TransientAuthError{Err: err}
	}
	defer res.Body.Close()

	parsed := authResponse{}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &TransientAuthError{Err: err}
	}
	if res.StatusCode != http.StatusOK {
		if isCredentialFailure(parsed.Type) {
			return nil, &CredentialError{Reason: parsed.Message}
		}
		return nil, &TransientAuthError{Err: fmt.Errorf("identity provider status %d: %s", res.StatusCode, parsed.Message)}
	}
	if parsed.AuthenticationResult.IDToken == "" {
		return nil, &TransientAuthError{Err: fmt.Errorf("no id token in %s response", flow)}
	}
	return &parsed.AuthenticationResult, nil
}

func isCredentialFailure(errType string) bool {
	switch {
	case strings.Contains(errType, "NotAuthorizedException"),
		strings.Contains(errType, "UserNotFoundException"),
		strings.Contains(errType, "PasswordResetRequiredException"):
		return true
	}
	return false
}

// regionFromPoolID extracts "eu-west-1" from "eu-west-1_AbCdEf".
func regionFromPoolID(poolID string) string {
	if i := strings.IndexByte(poolID, '_'); i > 0 {
		return poolID[:i]
	}
	return "eu-west-1"
}

func tokenNeedsRenewal(idToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		// Opaque test tokens and malformed claims renew eagerly.
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Until(exp.Time) < renewLeeway
}
