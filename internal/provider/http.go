package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/pkg/logger"
)

const userAgent = "dealtracker/1.0"

// httpClient is the paced, retrying JSON client shared by all storefront clients.
// Requests are spaced at least 60s/rateLimit apart.
type httpClient struct {
	name    string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
	log     zerolog.Logger

	// newBackOff builds the retry policy of one request.
	newBackOff func() backoff.BackOff
}

func newHTTPClient(name, baseURL string, ratePerMinute int, timeout time.Duration, client *http.Client) *httpClient {
	if client == nil {
		client = &http.Client{}
	}
	if timeout > 0 {
		client.Timeout = timeout
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}

	return &httpClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     client,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		header:     http.Header{},
		log:        logger.With("provider", name),
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return backoff.WithMaxRetries(b, 3)
}

// endpoint resolves path against the base URL. Absolute URLs are used as is.
func (c *httpClient) endpoint(path string, params url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// getJSON performs a paced GET and decodes the JSON response into out.
func (c *httpClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, c.endpoint(path, params), "", nil, out)
}

// postJSON performs a paced POST with a raw body and decodes the JSON response.
func (c *httpClient) postJSON(ctx context.Context, path, contentType string, body []byte, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint(path, nil), contentType, body, out)
}

func (c *httpClient) doJSON(ctx context.Context, method, target, contentType string, body []byte, out interface{}) error {
	respBody, err := c.doWithRetry(ctx, method, target, contentType, body)
	if err != nil {
		return apperror.Provider(c.name, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperror.Provider(c.name, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *httpClient) doWithRetry(ctx context.Context, method, target, contentType string, body []byte) ([]byte, error) {
	var respBody []byte

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, vs := range c.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("failed to perform request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.log.Warn().
				Int("status", resp.StatusCode).
				Msg("Provider request failed, retrying with backoff")
			return fmt.Errorf("unexpected status code %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(snippet)))
		}

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to read response body: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, redact(target), err)
	}
	return respBody, nil
}

// redact strips the query string from URLs written to errors and logs.
func redact(target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i]
	}
	return target
}
