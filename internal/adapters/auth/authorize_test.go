package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// consentSession stands in for a live browser: Navigate receives the
// authorization URL and answers the loopback callback the way a user
// finishing (or rejecting) the consent screen would.
type consentSession struct {
	navigations atomic.Int64
	respond     func(attempt int64, redirectURI string)
}

func (s *consentSession) AccountID() domain.AccountID  { return "alice@example.com" }
func (s *consentSession) Port() int                    { return 0 }
func (s *consentSession) PageDebuggerURL() string      { return "" }
func (s *consentSession) State() domain.SessionState   { return domain.SessionReady }
func (s *consentSession) Navigate(_ context.Context, target string, waitLoad bool, _ time.Duration) error {
	if waitLoad {
		return errors.New("consent navigation must not wait for load")
	}
	attempt := s.navigations.Add(1)

	parsed, err := url.Parse(target)
	if err != nil {
		return err
	}
	redirect := parsed.Query().Get("redirect_uri")
	if redirect == "" {
		return errors.New("authorization url missing redirect_uri")
	}

	go s.respond(attempt, redirect)
	return nil
}

func answerCallback(t *testing.T, redirectURI string, query string) {
	t.Helper()
	resp, err := http.Get(redirectURI + "?" + query)
	if err == nil {
		_ = resp.Body.Close()
	}
}

func newTestAuthorizer(t *testing.T, tokenURL string) *GoogleAuthorizer {
	cfg := DefaultAuthorizerConfig("client-123", "secret-xyz")
	cfg.AuthEndpoint = "https://accounts.example.com/auth"
	cfg.TokenEndpoint = tokenURL
	cfg.AwaitTimeout = 3 * time.Second
	cfg.ListenTimeout = 2 * time.Second
	cfg.RetryDelay = 20 * time.Millisecond
	return NewGoogleAuthorizer(cfg, nil, fixedClock{now: time.Now()}, zaptest.NewLogger(t))
}

func newTokenServer(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostFormValue("grant_type"))
		assert.NotEmpty(t, r.PostFormValue("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-ok","refresh_token":"rt-ok","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAuthorizeCompletesHandshakeThroughSession(t *testing.T) {
	t.Parallel()

	tokens := newTokenServer(t)
	session := &consentSession{}
	session.respond = func(_ int64, redirect string) {
		answerCallback(t, redirect, "code=consent-code")
	}

	auth := newTestAuthorizer(t, tokens.URL)
	cred, err := auth.Authorize(context.Background(), "alice@example.com", session)
	require.NoError(t, err)

	assert.Equal(t, "at-ok", cred.AccessToken)
	assert.Equal(t, "rt-ok", cred.RefreshToken)
	assert.Equal(t, int64(1), session.navigations.Load())
}

func TestAuthorizeRetriesOnceOnTransientFailure(t *testing.T) {
	t.Parallel()

	tokens := newTokenServer(t)
	session := &consentSession{}
	session.respond = func(attempt int64, redirect string) {
		if attempt == 1 {
			answerCallback(t, redirect, "error=temporarily_unavailable")
			return
		}
		answerCallback(t, redirect, "code=second-try")
	}

	auth := newTestAuthorizer(t, tokens.URL)
	cred, err := auth.Authorize(context.Background(), "alice@example.com", session)
	require.NoError(t, err)

	assert.Equal(t, "at-ok", cred.AccessToken)
	assert.Equal(t, int64(2), session.navigations.Load())
}

func TestAuthorizeDoesNotRetryUserDenial(t *testing.T) {
	t.Parallel()

	tokens := newTokenServer(t)
	session := &consentSession{}
	session.respond = func(_ int64, redirect string) {
		answerCallback(t, redirect, "error=access_denied")
	}

	auth := newTestAuthorizer(t, tokens.URL)
	_, err := auth.Authorize(context.Background(), "alice@example.com", session)
	require.Error(t, err)

	assert.True(t, errors.Is(err, domain.ErrAuthorizationDenied))
	assert.Equal(t, int64(1), session.navigations.Load())
}

func TestAuthorizeFailsAfterSecondAttempt(t *testing.T) {
	t.Parallel()

	tokens := newTokenServer(t)
	session := &consentSession{}
	session.respond = func(_ int64, redirect string) {
		answerCallback(t, redirect, "error=server_error")
	}

	auth := newTestAuthorizer(t, tokens.URL)
	_, err := auth.Authorize(context.Background(), "alice@example.com", session)
	require.Error(t, err)

	assert.True(t, errors.Is(err, domain.ErrAuthorization))
	assert.Equal(t, int64(2), session.navigations.Load())
}
