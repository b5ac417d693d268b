package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/gmail-fleet/internal/domain"
	"github.com/bnema/gmail-fleet/internal/ports"
)

const (
	DefaultTokenEndpoint = "https://oauth2.googleapis.com/token"

	maxTokenResponseBytes = 1 << 20
)

var ErrInvalidGrant = errors.New("refresh token rejected by provider")

type TokenExchangeRequest struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Code          string
	CodeVerifier  string
}

type TokenRefreshRequest struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string
	RefreshToken  string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

type tokenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// ExchangeCode trades an authorization code for tokens. A successful
// exchange always carries a refresh token because the authorization URL
// requests offline access with forced consent.
func ExchangeCode(ctx context.Context, client *http.Client, req TokenExchangeRequest, clock ports.Clock) (domain.Credential, error) {
	if req.Code == "" {
		return domain.Credential{}, errors.New("authorization code is required")
	}
	if req.RedirectURI == "" {
		return domain.Credential{}, errors.New("redirect uri is required")
	}

	values := url.Values{}
	values.Set("grant_type", "authorization_code")
	values.Set("code", req.Code)
	values.Set("redirect_uri", req.RedirectURI)
	values.Set("client_id", req.ClientID)
	values.Set("client_secret", req.ClientSecret)
	if req.CodeVerifier != "" {
		values.Set("code_verifier", req.CodeVerifier)
	}

	tokens, err := postTokenRequest(ctx, client, req.TokenEndpoint, values)
	if err != nil {
		return domain.Credential{}, err
	}
	if tokens.AccessToken == "" {
		return domain.Credential{}, errors.New("token response missing access token")
	}

	return toCredential(tokens, "", clock), nil
}

// RefreshTokens mints a fresh access token from a stored refresh token. A
// provider invalid_grant answer maps to ErrInvalidGrant so callers can fall
// back to a full authorization instead of retrying.
func RefreshTokens(ctx context.Context, client *http.Client, req TokenRefreshRequest, clock ports.Clock) (domain.Credential, error) {
	if req.RefreshToken == "" {
		return domain.Credential{}, errors.New("refresh token is required")
	}

	values := url.Values{}
	values.Set("grant_type", "refresh_token")
	values.Set("refresh_token", req.RefreshToken)
	values.Set("client_id", req.ClientID)
	values.Set("client_secret", req.ClientSecret)

	tokens, err := postTokenRequest(ctx, client, req.TokenEndpoint, values)
	if err != nil {
		return domain.Credential{}, err
	}
	if tokens.AccessToken == "" {
		return domain.Credential{}, errors.New("token response missing access token")
	}

	// Google omits the refresh token on refresh; keep the one we already hold.
	return toCredential(tokens, req.RefreshToken, clock), nil
}

func postTokenRequest(ctx context.Context, client *http.Client, endpoint string, values url.Values) (tokenResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultTokenEndpoint
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(httpReq)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("post token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var tokenErr tokenErrorResponse
		if decodeErr := json.Unmarshal(body, &tokenErr); decodeErr == nil && tokenErr.Error != "" {
			if tokenErr.Error == "invalid_grant" {
				return tokenResponse{}, fmt.Errorf("%w: %s", ErrInvalidGrant, tokenErr.Description)
			}
			return tokenResponse{}, fmt.Errorf("token endpoint error %s: %s", tokenErr.Error, tokenErr.Description)
		}
		return tokenResponse{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}

	return tokens, nil
}

func toCredential(tokens tokenResponse, fallbackRefresh string, clock ports.Clock) domain.Credential {
	refresh := tokens.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	var expiresAt time.Time
	if tokens.ExpiresIn > 0 {
		expiresAt = clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
	}

	return domain.Credential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: refresh,
		TokenType:    tokens.TokenType,
		ExpiresAt:    expiresAt,
		Scopes:       strings.Fields(tokens.Scope),
	}
}
