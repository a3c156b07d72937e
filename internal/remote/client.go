package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"opsdesk/internal/config"
	"opsdesk/internal/engine"
	"opsdesk/internal/logging"
)

// Client commits engine mutations to the remote task API.
type Client struct {
	BaseURL    string
	PortalID   string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// New creates a client with sane defaults. The HTTP client is built here and
// only read afterwards, so one Client may serve concurrent commits.
func New(baseURL, portalID string) *Client {
	timeout := 10 * time.Second
	return &Client{
		BaseURL:    baseURL,
		PortalID:   portalID,
		Timeout:    timeout,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// FromConfig returns a Client for cfg.Remote, or Nop when no base URL is configured.
func FromConfig(cfg *config.Config, logger *slog.Logger) engine.Committer {
	if cfg == nil || strings.TrimSpace(cfg.Remote.BaseURL) == "" {
		return Nop{}
	}
	c := New(cfg.Remote.BaseURL, cfg.Portal.ID)
	c.APIKey = cfg.Remote.APIKey
	if cfg.Remote.TimeoutSeconds > 0 {
		c.Timeout = time.Duration(cfg.Remote.TimeoutSeconds) * time.Second
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	c.Logger = logger
	return c
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Commit sends m to the endpoint for its operation and succeeds only on a 2xx answer.
func (c *Client) Commit(ctx context.Context, m engine.Mutation) error {
	method, endpoint, err := route(m)
	if err != nil {
		return err
	}
	start := time.Now()
	err = c.do(ctx, method, c.portalPath(endpoint), m, nil)
	logging.OrDefault(c.Logger).Debug("remote commit", "op", m.Op, "entity_id", m.EntityID, "duration", time.Since(start), "error", err)
	return err
}

func route(m engine.Mutation) (string, string, error) {
	id := url.PathEscape(m.EntityID)
	switch m.Op {
	case engine.OpTaskCreate:
		return http.MethodPost, "tasks", nil
	case engine.OpTaskStatus:
		return http.MethodPost, "tasks/" + id + "/status", nil
	case engine.OpTaskCheck:
		return http.MethodPost, "tasks/" + id + "/checklist/check", nil
	case engine.OpTaskChecklist:
		return http.MethodPut, "tasks/" + id + "/checklist", nil
	case engine.OpTaskReassign:
		return http.MethodPost, "tasks/" + id + "/reassign", nil
	case engine.OpTemplateUpdate:
		return http.MethodPut, "templates/" + id, nil
	case engine.OpIntakeReceive:
		return http.MethodPost, "intake", nil
	case engine.OpIntakeResolve:
		return http.MethodPost, "intake/" + id + "/resolve", nil
	}
	return "", "", fmt.Errorf("unknown remote op %q", m.Op)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if m, ok := body.(engine.Mutation); ok {
		req.Header.Set("X-Opsdesk-Op", m.Op)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) portalPath(p string) string {
	return fmt.Sprintf("v0/portals/%s/%s", url.PathEscape(c.PortalID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// Nop accepts every mutation. Used when no remote is configured.
type Nop struct{}

func (Nop) Commit(context.Context, engine.Mutation) error { return nil }
