package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// Granularity represents the time frame for candles
type Granularity string

const (
	S5  Granularity = "S5"
	S30 Granularity = "S30"
	M1  Granularity = "M1"
	M5  Granularity = "M5"
	M15 Granularity = "M15"
	M30 Granularity = "M30"
	H1  Granularity = "H1"
	H4  Granularity = "H4"
	D   Granularity = "D"
)

// Duration is the length of one candle of granularity g, or zero when
// unknown.
func (g Granularity) Duration() time.Duration {
	switch g {
	case S5:
		return 5 * time.Second
	case S30:
		return 30 * time.Second
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D:
		return 24 * time.Hour
	}
	return 0
}

// BaseURL maps an environment name to its REST endpoint.
func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo", "":
		return PracticeURL, nil
	case "live":
		return LiveURL, nil
	default:
		return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
	}
}

// Config configures a Client.
type Config struct {
	Environment string
	Token       string
	AccountID   string
	Timeout     time.Duration
	MaxRetries  int
}

// Client is an OANDA v20 REST client implementing broker.Broker.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client

	maxRetries      int
	initialInterval time.Duration
	log             zerolog.Logger

	// trade id -> instrument, for price formatting on trade endpoints
	instruments sync.Map
}

// NewClient creates a new OANDA API client
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	base, err := BaseURL(cfg.Environment)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New("oanda: token is required")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("oanda: account id is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:         base,
		token:           cfg.Token,
		accountID:       cfg.AccountID,
		httpClient:      &http.Client{Timeout: timeout},
		maxRetries:      cfg.MaxRetries,
		initialInterval: 500 * time.Millisecond,
		log:             log.With().Str("component", "oanda").Logger(),
	}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	var msg struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(e.Body, &msg) == nil && msg.ErrorMessage != "" {
		return fmt.Sprintf("oanda http %d: %s", e.Status, msg.ErrorMessage)
	}
	return fmt.Sprintf("oanda http %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// Retriable reports whether a request of method may be repeated after
// this response. Only reads are repeated after a server error since a
// write may already have been applied.
func (e *APIError) Retriable(method string) bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return method == http.MethodGet && e.Status >= 500
}

func (c *Client) accountPath(format string, args ...any) string {
	return "/v3/accounts/" + url.PathEscape(c.accountID) + fmt.Sprintf(format, args...)
}

// do performs one API call with bounded exponential backoff. GETs are
// retried on network errors, 429 and 5xx; writes only on 429. Any other
// failure status is returned as *APIError. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, r)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept-Datetime-Format", "RFC3339")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			err = fmt.Errorf("execute request: %w", err)
			if method != http.MethodGet {
				return backoff.Permanent(err)
			}
			c.log.Debug().Err(err).Int("attempt", attempt).Str("path", path).Msg("request failed")
			return err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{Status: resp.StatusCode, Body: b}
			if apiErr.Retriable(method) {
				c.log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Str("path", path).Msg("retriable response")
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		body = b
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxElapsedTime = 0
	var bo backoff.BackOff = eb
	if c.maxRetries >= 0 {
		bo = backoff.WithMaxRetries(eb, uint64(c.maxRetries))
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
