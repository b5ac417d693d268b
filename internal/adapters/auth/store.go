package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

// TokenStore persists credential blobs through a SecretStore and refreshes
// them against the provider token endpoint. Any failure to produce a stored
// blob maps to domain.ErrCredentialUnavailable: the caller's recovery for a
// missing, corrupt or unreadable blob is the same (re-authorize).
type TokenStore struct {
	secrets ports.SecretStore
	client  *http.Client
	clock   ports.Clock

	TokenEndpoint string
	ClientID      string
	ClientSecret  string
}

var _ ports.CredentialSource = (*TokenStore)(nil)

func NewTokenStore(secrets ports.SecretStore, client *http.Client, clock ports.Clock, clientID, clientSecret string) *TokenStore {
	if client == nil {
		client = http.DefaultClient
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &TokenStore{
		secrets:       secrets,
		client:        client,
		clock:         clock,
		TokenEndpoint: DefaultTokenEndpoint,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
	}
}

func (s *TokenStore) Load(ctx context.Context, id domain.AccountID) (domain.Credential, error) {
	raw, err := s.secrets.Get(ctx, id.SecretKey())
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", domain.ErrCredentialUnavailable, err)
	}

	var cred domain.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: decode stored credential: %v", domain.ErrCredentialUnavailable, err)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return domain.Credential{}, fmt.Errorf("%w: stored credential is empty", domain.ErrCredentialUnavailable)
	}

	return cred, nil
}

func (s *TokenStore) Save(ctx context.Context, id domain.AccountID, cred domain.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := s.secrets.Put(ctx, id.SecretKey(), string(raw)); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (s *TokenStore) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	return RefreshTokens(ctx, s.client, TokenRefreshRequest{
		TokenEndpoint: s.TokenEndpoint,
		ClientID:      s.ClientID,
		ClientSecret:  s.ClientSecret,
		RefreshToken:  cred.RefreshToken,
	}, s.clock)
}
