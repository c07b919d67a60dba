// Package clearbit is a minimal client for the Clearbit combined person and
// company lookup.
package clearbit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/pkg/apierr"
)

const defaultBaseURL = "https://person.clearbit.com"

// ErrQueued is returned when Clearbit accepted the lookup but has no result yet.
var ErrQueued = eris.New("clearbit: lookup queued")

// ErrNotFound is returned when Clearbit knows nothing about the email.
var ErrNotFound = eris.New("clearbit: person not found")

// Client looks up people by email.
type Client interface {
	FindCombined(ctx context.Context, email string) (*Combined, error)
}

// Combined is the response of GET /v2/combined/find.
type Combined struct {
	Person  *Person         `json:"person"`
	Company *Company        `json:"company"`
	Raw     json.RawMessage `json:"-"`
}

// Person is the person half of a combined lookup.
type Person struct {
	ID   string `json:"id"`
	Name struct {
		FullName string `json:"fullName"`
	} `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Avatar   string `json:"avatar"`
	Location struct {
		City  string `json:"city"`
		State string `json:"state"`
	} `json:"geo"`
	Employment struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"employment"`
	LinkedIn struct {
		Handle string `json:"handle"`
	} `json:"linkedin"`
}

// Company is the company half of a combined lookup.
type Company struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Clearbit API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) FindCombined(ctx context.Context, email string) (*Combined, error) {
	u := c.baseURL + "/v2/combined/find?email=" + url.QueryEscape(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "clearbit: read response")
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted:
		return nil, ErrQueued
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, apierr.New("clearbit", resp.StatusCode, body)
	}

	var out Combined
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "clearbit: unmarshal response")
	}
	out.Raw = body
	return &out, nil
}
