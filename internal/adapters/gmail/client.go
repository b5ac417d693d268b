package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bnema/gmail-fleet/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultGmailBaseURL  = "https://gmail.googleapis.com/gmail/v1"
	DefaultPeopleBaseURL = "https://people.googleapis.com/v1"

	// Gmail caps page size at 100; the client pages until maxResults.
	searchPageSize    = 100
	DefaultMaxResults = 500

	maxResponseBytes = 8 << 20
)

// TokenProvider hands out a live bearer token per request so long runs
// survive access-token expiry.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken wraps an already-resolved access token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Client talks to the Gmail and People REST APIs for one account.
type Client struct {
	GmailBaseURL  string
	PeopleBaseURL string

	httpClient *http.Client
	token      TokenProvider
	logger     *zap.Logger
}

var (
	_ ports.Mailbox  = (*Client)(nil)
	_ ports.Contacts = (*Client)(nil)
)

func NewClient(httpClient *http.Client, token TokenProvider, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		GmailBaseURL:  DefaultGmailBaseURL,
		PeopleBaseURL: DefaultPeopleBaseURL,
		httpClient:    httpClient,
		token:         token,
		logger:        logger,
	}
}

type messageList struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// SearchMessages pages through the user's mailbox for query, returning at
// most maxResults refs. A zero maxResults falls back to DefaultMaxResults.
func (c *Client) SearchMessages(ctx context.Context, query string, maxResults int) ([]ports.MessageRef, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var refs []ports.MessageRef
	pageToken := ""
	for len(refs) < maxResults {
		pageSize := searchPageSize
		if remaining := maxResults - len(refs); remaining < pageSize {
			pageSize = remaining
		}

		values := url.Values{}
		values.Set("q", query)
		values.Set("maxResults", strconv.Itoa(pageSize))
		values.Set("includeSpamTrash", "true")
		if pageToken != "" {
			values.Set("pageToken", pageToken)
		}

		var page messageList
		if err := c.getJSON(ctx, c.GmailBaseURL+"/users/me/messages?"+values.Encode(), &page); err != nil {
			return nil, fmt.Errorf("search messages: %w", err)
		}

		for _, m := range page.Messages {
			refs = append(refs, ports.MessageRef{ID: m.ID, ThreadID: m.ThreadID})
		}

		if page.NextPageToken == "" || len(page.Messages) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Debug("mailbox search finished",
		zap.String("query", query), zap.Int("matches", len(refs)))
	return refs, nil
}

type messagePayload struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []messagePayload `json:"parts"`
}

type messageFull struct {
	ID      string         `json:"id"`
	Payload messagePayload `json:"payload"`
}

// GetMessageBody fetches a message and flattens its MIME tree into one
// decoded string, html parts first since link extraction feeds on markup.
func (c *Client) GetMessageBody(ctx context.Context, id string) (string, error) {
	var msg messageFull
	endpoint := fmt.Sprintf("%s/users/me/messages/%s?format=full", c.GmailBaseURL, url.PathEscape(id))
	if err := c.getJSON(ctx, endpoint, &msg); err != nil {
		return "", fmt.Errorf("get message %s: %w", id, err)
	}

	var html, plain strings.Builder
	collectBodies(msg.Payload, &html, &plain)

	if html.Len() > 0 {
		return html.String(), nil
	}
	return plain.String(), nil
}

func collectBodies(p messagePayload, html, plain *strings.Builder) {
	if p.Body.Data != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(p.Body.Data)
		if err != nil {
			// Some payloads arrive padded.
			decoded, err = base64.URLEncoding.DecodeString(p.Body.Data)
		}
		if err == nil {
			switch {
			case strings.HasPrefix(p.MimeType, "text/html"):
				html.Write(decoded)
			case strings.HasPrefix(p.MimeType, "text/plain"), p.MimeType == "":
				plain.Write(decoded)
			}
		}
	}
	for _, part := range p.Parts {
		collectBodies(part, html, plain)
	}
}

type modifyRequest struct {
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
}

// ModifyLabels applies label additions and removals to one message.
func (c *Client) ModifyLabels(ctx context.Context, id string, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	endpoint := fmt.Sprintf("%s/users/me/messages/%s/modify", c.GmailBaseURL, url.PathEscape(id))
	if err := c.postJSON(ctx, endpoint, modifyRequest{AddLabelIDs: add, RemoveLabelIDs: remove}, nil); err != nil {
		return fmt.Errorf("modify labels on %s: %w", id, err)
	}
	return nil
}

type contactRequest struct {
	EmailAddresses []struct {
		Value string `json:"value"`
	} `json:"emailAddresses"`
	Names []struct {
		GivenName string `json:"givenName"`
	} `json:"names,omitempty"`
}

// CreateContact registers an address in the account's contact list so the
// provider treats future mail from it as first-party.
func (c *Client) CreateContact(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("contact email is required")
	}

	var body contactRequest
	body.EmailAddresses = append(body.EmailAddresses, struct {
		Value string `json:"value"`
	}{Value: email})
	if local, _, found := strings.Cut(email, "@"); found && local != "" {
		body.Names = append(body.Names, struct {
			GivenName string `json:"givenName"`
		}{GivenName: local})
	}

	if err := c.postJSON(ctx, c.PeopleBaseURL+"/people:createContact", body, nil); err != nil {
		return fmt.Errorf("create contact %s: %w", email, err)
	}
	return nil
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, raw, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("resolve bearer token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var detail apiError
		if json.Unmarshal(raw, &detail) == nil && detail.Error.Message != "" {
			return fmt.Errorf("api status %d: %s", resp.StatusCode, detail.Error.Message)
		}
		return fmt.Errorf("api status %d", resp.StatusCode)
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
