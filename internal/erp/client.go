package erp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/tijarahlabs/storesync/internal/apperr"
	"github.com/tijarahlabs/storesync/internal/config"
	"github.com/tijarahlabs/storesync/internal/metrics"
)

const (
	// maxRetries bounds connection-error retries; authentication and
	// not-found responses are never retried.
	maxRetries = 2

	// maxImageBytes caps embedded images; larger files keep their URL.
	maxImageBytes = 5 << 20
)

// Client is the HTTP implementation of Fetcher against an ERPNext-style API.
// All list and document reads go through a circuit breaker and a bounded
// exponential retry.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker

	// retryInitial seeds the backoff; tests shrink it.
	retryInitial time.Duration
}

var _ Fetcher = (*Client)(nil)

// NewClient builds a Fetcher from configuration.
func NewClient(cfg config.ERP) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "erp",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("erp circuit state changed")
		},
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		http:         &http.Client{Timeout: timeout},
		breaker:      gobreaker.NewCircuitBreaker(settings),
		retryInitial: 500 * time.Millisecond,
	}
}

// FetchOne retrieves a single document by name.
func (c *Client) FetchOne(ctx context.Context, doctype, name string) (Record, error) {
	var payload struct {
		Data Record `json:"data"`
	}
	path := "/api/resource/" + url.PathEscape(doctype) + "/" + url.PathEscape(name)
	if err := c.getJSON(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// FetchPublished retrieves the published-document list of a doctype. Doctypes
// without a publication flag return all documents.
func (c *Client) FetchPublished(ctx context.Context, doctype string) ([]Record, error) {
	q := url.Values{}
	q.Set("fields", `["*"]`)
	q.Set("limit_page_length", "0")
	if f := publishedFilter(doctype); f != "" {
		q.Set("filters", f)
	}
	return c.fetchList(ctx, doctype, q)
}

// FetchFiltered retrieves documents matching one field equality.
func (c *Client) FetchFiltered(ctx context.Context, doctype, field, value string) ([]Record, error) {
	filter, err := json.Marshal([][]string{{field, "=", value}})
	if err != nil {
		return nil, apperr.Internal("encode erp filter", err)
	}
	q := url.Values{}
	q.Set("fields", `["*"]`)
	q.Set("limit_page_length", "0")
	q.Set("filters", string(filter))
	return c.fetchList(ctx, doctype, q)
}

// FetchImage retrieves a file and returns it as a base64 data URI. Relative
// paths resolve against the ERP base URL.
func (c *Client) FetchImage(ctx context.Context, fileURL string) (string, error) {
	u := fileURL
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(fileURL, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", apperr.Internal("build erp image request", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Upstream("erp image unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Upstream(fmt.Sprintf("erp image returned %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", apperr.Upstream("read erp image", err)
	}
	if len(data) > maxImageBytes {
		return "", apperr.Upstream("erp image exceeds size cap", nil)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Ping verifies the ERP answers. Single attempt, no breaker: health checks
// must observe the real upstream state.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/method/ping", nil)
	if err != nil {
		return apperr.Internal("build erp ping", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Upstream("erp unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.Upstream(fmt.Sprintf("erp ping returned %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *Client) fetchList(ctx context.Context, doctype string, q url.Values) ([]Record, error) {
	var payload struct {
		Data []Record `json:"data"`
	}
	path := "/api/resource/" + url.PathEscape(doctype)
	if err := c.getJSON(ctx, path, q, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// getJSON runs one GET through the breaker with bounded retries. 4xx
// responses and an open breaker are permanent; connection errors and 5xx
// retry with exponential backoff.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	attempt := func() error {
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, c.do(ctx, path, q, out)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(apperr.Upstream("erp circuit open", err))
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			switch ae.Kind {
			case apperr.KindNotFound, apperr.KindUnauthorized, apperr.KindForbidden, apperr.KindValidation:
				return backoff.Permanent(err)
			}
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}

func (c *Client) do(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return apperr.Internal("build erp request", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observeRequest("error", start)
		return apperr.Upstream("erp unreachable", err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("erp request")
	observeRequest(requestOutcome(resp.StatusCode), start)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return apperr.NotFound("erp resource not found")
	case http.StatusUnauthorized:
		return apperr.Unauthorized("erp rejected credentials")
	case http.StatusForbidden:
		return apperr.Forbidden("erp denied access")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.Upstream(fmt.Sprintf("erp returned %d", resp.StatusCode), errors.New(strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Upstream("decode erp response", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "token "+c.apiKey+":"+c.apiSecret)
	}
}

func observeRequest(outcome string, start time.Time) {
	metrics.ERPRequestsTotal.WithLabelValues(outcome).Inc()
	metrics.ERPRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func requestOutcome(status int) string {
	switch status {
	case http.StatusOK:
		return "ok"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "denied"
	default:
		return "error"
	}
}

// publishedFilter returns the list filter selecting published documents,
// empty when the doctype has no publication flag.
func publishedFilter(doctype string) string {
	switch doctype {
	case "Website Item":
		return `[["published","=","1"]]`
	default:
		return ""
	}
}
