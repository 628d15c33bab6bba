package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// Client is the remote mail API surface consumed by the pipeline.
type Client interface {
	// SaveDraft upserts the draft remotely, keyed by its local ID, and
	// returns the server-assigned identifier.
	SaveDraft(ctx context.Context, user Identity, req SaveDraftRequest) (SaveDraftResponse, error)

	// FetchSendPreferences performs one batched key lookup for all the
	// given addresses.
	FetchSendPreferences(ctx context.Context, user Identity, emails []string) (map[string]RecipientKeys, error)

	// SendMessage performs the final send call for an already-saved draft.
	// The call is keyed by the draft's server ID so the server can
	// deduplicate a replayed send.
	SendMessage(ctx context.Context, user Identity, serverID string, body SendRequestBody, senderAddressID string) error

	// GetMailSettings fetches the acting user's mail settings.
	GetMailSettings(ctx context.Context, user Identity) (MailSettings, error)
}

// HTTPClient implements Client over HTTP with a circuit breaker around
// every remote call.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// Ensure HTTPClient implements the Client interface
var _ Client = (*HTTPClient)(nil)

// HTTPClientConfig configures the HTTP API client.
type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPClient creates an API client for the given endpoint.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mail-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Info("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Permanent rejections are the caller's problem, not a sign
			// the endpoint is down; only transient failures trip the
			// breaker.
			return err == nil || IsPermanent(err)
		},
	})

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: cb,
		logger:  logger.With("component", "api-client"),
	}
}

// SaveDraft upserts the draft remotely.
func (c *HTTPClient) SaveDraft(ctx context.Context, user Identity, req SaveDraftRequest) (SaveDraftResponse, error) {
	var resp SaveDraftResponse
	path := fmt.Sprintf("/mail/v1/drafts/%s", req.LocalID)
	if err := c.do(ctx, user, http.MethodPut, path, req, &resp, nil); err != nil {
		return SaveDraftResponse{}, fmt.Errorf("draft upsert failed: %w", err)
	}
	if resp.ServerID == "" {
		return SaveDraftResponse{}, fmt.Errorf("draft upsert returned no server id")
	}
	return resp, nil
}

// FetchSendPreferences performs one batched key lookup.
func (c *HTTPClient) FetchSendPreferences(ctx context.Context, user Identity, emails []string) (map[string]RecipientKeys, error) {
	req := struct {
		Emails []string `json:"emails"`
	}{Emails: emails}

	var resp struct {
		Keys map[string]RecipientKeys `json:"keys"`
	}
	if err := c.do(ctx, user, http.MethodPost, "/mail/v1/keys", req, &resp, nil); err != nil {
		return nil, fmt.Errorf("key lookup failed: %w", err)
	}
	return resp.Keys, nil
}

// SendMessage performs the final send call.
func (c *HTTPClient) SendMessage(ctx context.Context, user Identity, serverID string, body SendRequestBody, senderAddressID string) error {
	path := fmt.Sprintf("/mail/v1/messages/%s/send", serverID)
	headers := map[string]string{"X-Sender-Address": senderAddressID}
	if err := c.do(ctx, user, http.MethodPost, path, body, nil, headers); err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	return nil
}

// GetMailSettings fetches the user's mail settings.
func (c *HTTPClient) GetMailSettings(ctx context.Context, user Identity) (MailSettings, error) {
	var settings MailSettings
	if err := c.do(ctx, user, http.MethodGet, "/mail/v1/settings", nil, &settings, nil); err != nil {
		return MailSettings{}, fmt.Errorf("mail settings fetch failed: %w", err)
	}
	return settings, nil
}

// do performs one HTTP request through the circuit breaker, marshaling the
// request body and unmarshaling the response into result when non-nil.
func (c *HTTPClient) do(ctx context.Context, user Identity, method, path string, body, result interface{}, headers map[string]string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var bodyReader io.Reader
		if body != nil {
			bodyBytes, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", user.UserID)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, &Error{StatusCode: resp.StatusCode, Message: string(msg)}
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return nil, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil, nil
	})

	if err != nil {
		c.logger.Debug("remote call failed",
			"method", method,
			"path", path,
			"user_id", user.UserID,
			"error", err,
		)
	}
	return err
}
