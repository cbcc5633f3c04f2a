// Package millclient talks to the mill API over HTTP. Client satisfies
// lotwizard.Gateway so the terminal wizard runs the same workflow as the
// server-hosted drafts.
package millclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"spinmill/backend/internal/domain"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/store"
	"spinmill/backend/internal/weighment"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the API. It unwraps to the store
// sentinel matching the status, and to the reconciliation or field errors
// the body carried, so callers can use errors.Is and errors.As.
type APIError struct {
	Status   int                      `json:"-"`
	Message  string                   `json:"error"`
	Code     string                   `json:"code,omitempty"`
	Fields   map[string]string        `json:"fields,omitempty"`
	Errors   []lotwizard.FieldError   `json:"errors,omitempty"`
	Mismatch *weighment.MismatchError `json:"mismatch,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + e.Fields[k]
		}
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return fmt.Sprintf("mill api %d: %s", e.Status, msg)
}

func (e *APIError) Unwrap() []error {
	var errs []error
	if sentinel := e.sentinel(); sentinel != nil {
		errs = append(errs, sentinel)
	}
	if e.Mismatch != nil {
		errs = append(errs, e.Mismatch)
	}
	if len(e.Errors) > 0 {
		errs = append(errs, &lotwizard.ValidationErrors{Errors: e.Errors})
	}
	return errs
}

func (e *APIError) sentinel() error {
	switch e.Status {
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		if e.Code == "duplicate" {
			return store.ErrDuplicate
		}
		return store.ErrConflict
	case http.StatusUnprocessableEntity:
		return store.ErrInvalidLot
	default:
		return nil
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

var _ lotwizard.Gateway = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid mill api url %q", baseURL)
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListInwardEntries(ctx context.Context) ([]domain.InwardEntry, error) {
	var resp domain.InwardEntryListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/inward-entries", nil, &resp); err != nil {
		return nil, err
	}
	return resp.InwardEntries, nil
}

func (c *Client) GetInwardEntry(ctx context.Context, id string) (domain.InwardEntry, error) {
	var resp struct {
		InwardEntry domain.InwardEntry `json:"inwardEntry"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/inward-entries/"+url.PathEscape(id), nil, &resp); err != nil {
		return domain.InwardEntry{}, err
	}
	return resp.InwardEntry, nil
}

func (c *Client) NextLotNumber(ctx context.Context) (string, error) {
	var resp domain.NextLotNumberResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/lots/next-number", nil, &resp); err != nil {
		return "", err
	}
	return resp.LotNo, nil
}

func (c *Client) CreateLot(ctx context.Context, req domain.LotCreateRequest) (domain.Lot, error) {
	var resp domain.LotResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/lots", req, &resp); err != nil {
		return domain.Lot{}, err
	}
	return resp.Lot, nil
}

func (c *Client) GetLot(ctx context.Context, lotNo string) (domain.Lot, error) {
	var resp domain.LotResponse
	if err := c.do(ctx, http.MethodGet, lotPath(lotNo), nil, &resp); err != nil {
		return domain.Lot{}, err
	}
	return resp.Lot, nil
}

func (c *Client) CreateWeightments(ctx context.Context, lotNo string, rows []domain.WeightmentCreateRequest) ([]domain.Weightment, error) {
	body := struct {
		Weightments []domain.WeightmentCreateRequest `json:"weightments"`
	}{Weightments: rows}
	var resp domain.WeightmentListResponse
	if err := c.do(ctx, http.MethodPost, lotPath(lotNo)+"/weightments", body, &resp); err != nil {
		return nil, err
	}
	return resp.Weightments, nil
}

func (c *Client) DeleteLot(ctx context.Context, lotNo string) error {
	return c.do(ctx, http.MethodDelete, lotPath(lotNo), nil, nil)
}

func lotPath(lotNo string) string {
	return "/api/v1/lots/" + url.PathEscape(strings.TrimSpace(lotNo))
}

func (c *Client) do(ctx context.Context, method string, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startedAt := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(startedAt).String(),
	}).Debug("mill api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
