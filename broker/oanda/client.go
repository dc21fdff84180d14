// Package oanda is a broker.Venue backed by the OANDA v3 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/scalper/broker"
	"github.com/rustyeddy/scalper/market"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

type Config struct {
	BaseURL   string
	Token     string
	AccountID string
	Timeout   time.Duration
}

// Client talks to one OANDA account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
	log        *slog.Logger

	mu   sync.Mutex
	meta map[string]market.InstrumentMeta
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("oanda: missing token")
	}
	if cfg.AccountID == "" {
		return nil, errors.New("oanda: missing account id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = PracticeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		accountID:  cfg.AccountID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "oanda"),
		meta:       make(map[string]market.InstrumentMeta),
	}, nil
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status       int
	Message      string
	RejectReason string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.RejectReason != "" {
		msg += " (" + e.RejectReason + ")"
	}
	return fmt.Sprintf("API error (status %d): %s", e.Status, msg)
}

// do sends one request and decodes a 2xx body into out. Transport and
// decoding failures are adapter faults; HTTP errors come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, broker.ErrAdapterFault, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, broker.ErrAdapterFault, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var rej struct {
			ErrorMessage           string `json:"errorMessage"`
			OrderRejectTransaction struct {
				RejectReason string `json:"rejectReason"`
			} `json:"orderRejectTransaction"`
		}
		if json.Unmarshal(data, &rej) == nil {
			apiErr.Message = rej.ErrorMessage
			apiErr.RejectReason = rej.OrderRejectTransaction.RejectReason
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w: %w", method, path, broker.ErrAdapterFault, err)
	}
	return nil
}

func (c *Client) accountPath(parts ...string) string {
	return "/v3/accounts/" + url.PathEscape(c.accountID) + "/" + strings.Join(parts, "/")
}

// classify tags an HTTP error with kind. Authentication failures and
// server errors are always adapter faults.
func classify(op string, err error, kind error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden || apiErr.Status >= 500 {
		kind = broker.ErrAdapterFault
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// parseFloat parses an API decimal string. An empty string is zero.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func formatPrice(p float64, digits int32) string {
	if digits <= 0 {
		return strconv.FormatFloat(p, 'f', -1, 64)
	}
	return strconv.FormatFloat(p, 'f', int(digits), 64)
}

func formatUnits(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
