package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultAuthEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"

	// GmailScopes cover mailbox search, label mutation and contact creation.
	gmailModifyScope   = "https://www.googleapis.com/auth/gmail.modify"
	contactsScope      = "https://www.googleapis.com/auth/contacts"
	defaultRetryDelay  = 2 * time.Second
	defaultListenersUp = 3 * time.Second
)

var DefaultScopes = []string{gmailModifyScope, contactsScope}

// AuthorizerConfig carries the OAuth client registration plus the flow
// timeouts. Zero timeout fields fall back to the package defaults.
type AuthorizerConfig struct {
	AuthEndpoint  string
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	Scopes        []string

	AwaitTimeout  time.Duration
	ListenTimeout time.Duration
	NavTimeout    time.Duration
	RetryDelay    time.Duration
}

func DefaultAuthorizerConfig(clientID, clientSecret string) AuthorizerConfig {
	return AuthorizerConfig{
		AuthEndpoint:  DefaultAuthEndpoint,
		TokenEndpoint: DefaultTokenEndpoint,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Scopes:        DefaultScopes,
		AwaitTimeout:  DefaultAwaitTimeout,
		ListenTimeout: defaultListenersUp,
		NavTimeout:    12 * time.Second,
		RetryDelay:    defaultRetryDelay,
	}
}

// GoogleAuthorizer runs the loopback authorization handshake, driving the
// provider consent page through the account's own browser session so the
// right profile's cookies are in play.
type GoogleAuthorizer struct {
	cfg    AuthorizerConfig
	client *http.Client
	clock  ports.Clock
	logger *zap.Logger
}

var _ ports.Authorizer = (*GoogleAuthorizer)(nil)

func NewGoogleAuthorizer(cfg AuthorizerConfig, client *http.Client, clock ports.Clock, logger *zap.Logger) *GoogleAuthorizer {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = DefaultAuthEndpoint
	}
	if cfg.TokenEndpoint == "" {
		cfg.TokenEndpoint = DefaultTokenEndpoint
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = DefaultAwaitTimeout
	}
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = defaultListenersUp
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 12 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoogleAuthorizer{cfg: cfg, client: client, clock: clock, logger: logger}
}

// Authorize runs the full handshake and retries it once after a short
// backoff on transient failure. A user denial at the consent screen is
// final and never retried.
func (a *GoogleAuthorizer) Authorize(ctx context.Context, id domain.AccountID, session ports.BrowserSession) (domain.Credential, error) {
	cred, err := a.runFlow(ctx, id, session)
	if err == nil {
		return cred, nil
	}
	if errors.Is(err, domain.ErrAuthorizationDenied) {
		return domain.Credential{}, err
	}

	a.logger.Warn("authorization attempt failed, retrying once",
		zap.String("account", string(id)), zap.Error(err))

	select {
	case <-time.After(a.cfg.RetryDelay):
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	}

	return a.runFlow(ctx, id, session)
}

func (a *GoogleAuthorizer) runFlow(ctx context.Context, id domain.AccountID, session ports.BrowserSession) (domain.Credential, error) {
	flow, err := BeginFlow(id, FlowConfig{
		AuthEndpoint: a.cfg.AuthEndpoint,
		ClientID:     a.cfg.ClientID,
		Scopes:       a.cfg.Scopes,
	}, a.logger)
	if err != nil {
		return domain.Credential{}, err
	}
	defer flow.Close()

	if err := flow.WaitListening(a.cfg.ListenTimeout); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrAuthorization, err)
	}

	if session != nil {
		// The consent page drives its own redirects; waiting on a load
		// event would race with the provider's navigation chain.
		if err := session.Navigate(ctx, flow.AuthURL(), false, a.cfg.NavTimeout); err != nil {
			return domain.Credential{}, fmt.Errorf("%w: open consent page: %v", domain.ErrAuthorization, err)
		}
	} else {
		a.logger.Info("open the authorization url in a browser",
			zap.String("account", string(id)), zap.String("url", flow.AuthURL()))
	}

	code, err := flow.Await(a.cfg.AwaitTimeout)
	if err != nil {
		return domain.Credential{}, err
	}

	cred, err := ExchangeCode(ctx, a.client, TokenExchangeRequest{
		TokenEndpoint: a.cfg.TokenEndpoint,
		ClientID:      a.cfg.ClientID,
		ClientSecret:  a.cfg.ClientSecret,
		RedirectURI:   flow.RedirectURI(),
		Code:          code,
		CodeVerifier:  flow.CodeVerifier(),
	}, a.clock)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: exchange code: %v", domain.ErrAuthorization, err)
	}

	a.logger.Info("authorization complete", zap.String("account", string(id)))
	return cred, nil
}
