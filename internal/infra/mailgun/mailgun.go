// Package mailgun is the mail-provider client: messages plus the mailing
// list and member endpoints the subscription flow needs.
package mailgun

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/tadmccorkle/static-comments-with-firebase/internal/domain"
)

const (
	defaultBaseURL = "https://api.mailgun.net"
	defaultTimeout = 10 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	domain  string
	client  *http.Client
}

// New builds a client for one sending domain. baseURL is overridable for
// tests; empty means the public API.
func New(baseURL, apiKey, domain string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		domain:  domain,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) Domain() string { return c.domain }

// do posts form values (or GETs when form is nil) and maps non-2xx statuses
// to UpstreamError. Response bodies are dropped; they can echo credentials.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &domain.UpstreamError{Op: op, Err: err}
	}
	req.SetBasicAuth("api", c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return &domain.UpstreamError{
			Op:         op,
			StatusCode: res.StatusCode,
			Err:        errors.Errorf("mailgun returned status %d", res.StatusCode),
		}
	}
	return nil
}

// Send delivers one HTML email.
func (c *Client) Send(ctx context.Context, to, from, subject, html string) error {
	form := url.Values{}
	form.Set("to", to)
	form.Set("from", from)
	form.Set("subject", subject)
	form.Set("html", html)

	return c.do(ctx, "mailgun.send", http.MethodPost, "/v3/"+c.domain+"/messages", form)
}

// ListInfo checks that a mailing list exists; a missing list surfaces as an
// UpstreamError with status 404.
func (c *Client) ListInfo(ctx context.Context, address string) error {
	return c.do(ctx, "mailgun.listInfo", http.MethodGet, "/v3/lists/"+url.PathEscape(address), nil)
}

// CreateList creates a mailing list.
func (c *Client) CreateList(ctx context.Context, address string) error {
	form := url.Values{}
	form.Set("address", address)

	return c.do(ctx, "mailgun.createList", http.MethodPost, "/v3/lists", form)
}

// AddListMember adds a member to a list. The provider answers 400 for an
// existing member; callers treat that as success.
func (c *Client) AddListMember(ctx context.Context, address, email string) error {
	form := url.Values{}
	form.Set("address", email)
	form.Set("subscribed", "yes")

	return c.do(ctx, "mailgun.addListMember", http.MethodPost, "/v3/lists/"+url.PathEscape(address)+"/members", form)
}
