package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sukryu/gorm-oso/pkg/errors"
)

const (
	DefaultURL     = "https://api.osohq.com"
	DefaultTimeout = 10 * time.Second

	listLocalPath = "/api/list_local"
	factsPath     = "/api/facts"
)

type Config struct {
	URL    string
	APIKey string
	// DataBindings is the binding configuration document sent with every
	// row-filter request.
	DataBindings []byte
	Timeout      time.Duration
	// RateLimit caps requests per second. Zero disables limiting.
	RateLimit  float64
	Burst      int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the authorization service over HTTP. It is safe for
// concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	bindings string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

var (
	_ RowFilterer = (*Client)(nil)
	_ FactWriter  = (*Client)(nil)
)

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.APIKey == "" {
		return nil, errors.ErrInvalidConfig.WithReason("api key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.APIKey,
		bindings: string(cfg.DataBindings),
		http:     cfg.HTTPClient,
		logger:   cfg.Logger.With("component", "oso-client"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

type listLocalRequest struct {
	ActorType    string `json:"actor_type"`
	ActorID      string `json:"actor_id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	Column       string `json:"column"`
	DataBindings string `json:"data_bindings,omitempty"`
}

type listLocalResponse struct {
	SQL string `json:"sql"`
}

type factRequest struct {
	Fact Fact `json:"fact"`
}

type errorResponse struct {
	Error *errors.StatusError `json:"error"`
}

func (c *Client) ListLocal(ctx context.Context, actor Value, action, resourceType, column string) (string, error) {
	req := listLocalRequest{
		ActorType:    actor.Type,
		ActorID:      actor.ID,
		Action:       action,
		ResourceType: resourceType,
		Column:       column,
		DataBindings: c.bindings,
	}
	var resp listLocalResponse
	if err := c.do(ctx, http.MethodPost, listLocalPath, req, &resp); err != nil {
		return "", err
	}
	return resp.SQL, nil
}

func (c *Client) Insert(ctx context.Context, fact Fact) error {
	return c.do(ctx, http.MethodPost, factsPath, factRequest{Fact: fact}, nil)
}

func (c *Client) Delete(ctx context.Context, fact Fact) error {
	return c.do(ctx, http.MethodDelete, factsPath, factRequest{Fact: fact}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.ErrUpstream.Wrap(err)
		}
	}

	body, err := json.Marshal(in)
	if err != nil {
		return errors.ErrInternal.WithReasonf("encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.ErrInternal.WithReasonf("build request: %v", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(path, "error").Inc()
		return errors.ErrUpstream.Wrap(err)
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	c.logger.Debug("authorization request",
		"method", method, "path", path, "status", resp.StatusCode,
		"request_id", reqID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.ErrUpstream.WithReasonf("decode response: %v", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error != nil {
		return errors.ErrUpstream.Wrap(er.Error)
	}
	return errors.ErrUpstream.WithReason(fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
}
