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

// Device flow is the fallback for headless hosts where no browser session
// can be driven to a consent page: the user finishes the grant on another
// device with a short code.

const deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"

const DefaultDeviceCodeEndpoint = "https://oauth2.googleapis.com/device/code"

var ErrDeviceFlowTimeout = errors.New("timed out waiting for device authorization")

type DeviceFlowAdapter struct {
	DeviceCodeEndpoint string
	TokenEndpoint      string
	ClientID           string
	ClientSecret       string
	HTTPClient         *http.Client
	Clock              ports.Clock
	RequestTimeout     time.Duration
}

type DeviceCodeResult struct {
	VerificationURL string
	UserCode        string
	PollInterval    time.Duration
	DeviceAuthID    string
	ExpiresIn       time.Duration
}

type DevicePollRequest struct {
	DeviceAuthID string
	PollInterval time.Duration
	Timeout      time.Duration
}

type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURL         string `json:"verification_url"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	Interval                int64  `json:"interval"`
	ExpiresIn               int64  `json:"expires_in"`
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int64  `json:"interval"`
}

func (a DeviceFlowAdapter) RequestDeviceCode(ctx context.Context, scopes []string) (DeviceCodeResult, error) {
	if a.ClientID == "" {
		return DeviceCodeResult{}, errors.New("client id is required")
	}

	endpoint := a.DeviceCodeEndpoint
	if endpoint == "" {
		endpoint = DefaultDeviceCodeEndpoint
	}

	values := url.Values{}
	values.Set("client_id", a.ClientID)
	if len(scopes) > 0 {
		values.Set("scope", strings.Join(scopes, " "))
	}

	requestCtx, cancel := a.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return DeviceCodeResult{}, fmt.Errorf("create device code request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return DeviceCodeResult{}, fmt.Errorf("request device code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		oauthErr := decodeOAuthError(resp)
		return DeviceCodeResult{}, fmt.Errorf("request device code: %s", oauthErr)
	}

	var payload deviceCodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&payload); err != nil {
		return DeviceCodeResult{}, fmt.Errorf("decode device code response: %w", err)
	}

	// Google answers with verification_url, the RFC says verification_uri.
	verificationURL := payload.VerificationURIComplete
	if verificationURL == "" {
		verificationURL = payload.VerificationURI
	}
	if verificationURL == "" {
		verificationURL = payload.VerificationURL
	}
	if payload.DeviceCode == "" || payload.UserCode == "" || verificationURL == "" {
		return DeviceCodeResult{}, errors.New("device code response missing required fields")
	}

	interval := payload.Interval
	if interval <= 0 {
		interval = 5
	}

	return DeviceCodeResult{
		VerificationURL: verificationURL,
		UserCode:        payload.UserCode,
		PollInterval:    time.Duration(interval) * time.Second,
		DeviceAuthID:    payload.DeviceCode,
		ExpiresIn:       time.Duration(payload.ExpiresIn) * time.Second,
	}, nil
}

func (a DeviceFlowAdapter) PollToken(ctx context.Context, req DevicePollRequest) (domain.Credential, error) {
	if req.DeviceAuthID == "" {
		return domain.Credential{}, errors.New("device auth id is required")
	}

	interval := req.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	deadline := time.Now().Add(timeout)
	for {
		if time.Now().After(deadline) {
			return domain.Credential{}, ErrDeviceFlowTimeout
		}

		cred, pollInterval, pending, err := a.pollTokenOnce(ctx, req.DeviceAuthID, interval, deadline)
		if err != nil {
			return domain.Credential{}, err
		}
		if !pending {
			return cred, nil
		}
		if pollInterval > 0 {
			interval = pollInterval
		}

		waitUntil := time.Now().Add(interval)
		if waitUntil.After(deadline) {
			return domain.Credential{}, ErrDeviceFlowTimeout
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return domain.Credential{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (a DeviceFlowAdapter) pollTokenOnce(ctx context.Context, deviceAuthID string, interval time.Duration, deadline time.Time) (domain.Credential, time.Duration, bool, error) {
	endpoint := a.TokenEndpoint
	if endpoint == "" {
		endpoint = DefaultTokenEndpoint
	}

	values := url.Values{}
	values.Set("grant_type", deviceCodeGrantType)
	values.Set("client_id", a.ClientID)
	values.Set("client_secret", a.ClientSecret)
	values.Set("device_code", deviceAuthID)

	reqCtx := ctx
	if ctxDeadline, ok := ctx.Deadline(); !ok || deadline.Before(ctxDeadline) {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return domain.Credential{}, 0, false, fmt.Errorf("create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient().Do(httpReq)
	if err != nil {
		return domain.Credential{}, 0, false, fmt.Errorf("request token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		var tokens tokenResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&tokens); err != nil {
			return domain.Credential{}, 0, false, fmt.Errorf("decode token response: %w", err)
		}
		if tokens.AccessToken == "" {
			return domain.Credential{}, 0, false, errors.New("token response missing access token")
		}
		return toCredential(tokens, "", a.clock()), 0, false, nil
	}

	var oauthErr oauthErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&oauthErr); err != nil {
		return domain.Credential{}, 0, false, fmt.Errorf("request token: status %d", resp.StatusCode)
	}

	nextInterval := interval
	if oauthErr.Interval > 0 {
		nextInterval = time.Duration(oauthErr.Interval) * time.Second
	}
	if oauthErr.Error == "slow_down" {
		nextInterval += 5 * time.Second
	}

	if oauthErr.Error == "authorization_pending" || oauthErr.Error == "slow_down" {
		return domain.Credential{}, nextInterval, true, nil
	}
	if oauthErr.Error == "access_denied" {
		return domain.Credential{}, 0, false, fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, oauthErr.Error)
	}

	return domain.Credential{}, 0, false, fmt.Errorf("request token: %s", formatOAuthError(resp.StatusCode, oauthErr))
}

func (a DeviceFlowAdapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a DeviceFlowAdapter) clock() ports.Clock {
	if a.Clock != nil {
		return a.Clock
	}
	return ports.SystemClock{}
}

func (a DeviceFlowAdapter) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := a.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeOAuthError(resp *http.Response) string {
	var oauthErr oauthErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTokenResponseBytes)).Decode(&oauthErr); err != nil {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return formatOAuthError(resp.StatusCode, oauthErr)
}

func formatOAuthError(statusCode int, oauthErr oauthErrorResponse) string {
	if oauthErr.Error == "" {
		return fmt.Sprintf("status %d", statusCode)
	}
	if oauthErr.ErrorDescription != "" {
		return oauthErr.Error + ": " + oauthErr.ErrorDescription
	}
	return oauthErr.Error
}
