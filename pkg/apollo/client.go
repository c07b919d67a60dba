// Package apollo is a minimal client for the Apollo people match endpoint.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/pkg/apierr"
)

const defaultBaseURL = "https://api.apollo.io"

// Client matches people by email.
type Client interface {
	MatchPerson(ctx context.Context, req MatchRequest) (*MatchResponse, error)
}

// MatchRequest is the body of POST /v1/people/match.
type MatchRequest struct {
	Email                string `json:"email"`
	RevealPersonalEmails bool   `json:"reveal_personal_emails"`
}

// MatchResponse is the response of POST /v1/people/match. Person is nil when
// Apollo has no match.
type MatchResponse struct {
	Person *Person         `json:"person"`
	Raw    json.RawMessage `json:"-"`
}

// Person is an Apollo person record.
type Person struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Title        string        `json:"title"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	LinkedInURL  string        `json:"linkedin_url"`
	PhotoURL     string        `json:"photo_url"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	Organization *Organization `json:"organization"`
}

// PhoneNumber is one of a person's phone numbers.
type PhoneNumber struct {
	RawNumber string `json:"raw_number"`
}

// Organization is the employer attached to a person.
type Organization struct {
	Name string `json:"name"`
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

// NewClient creates an Apollo API client.
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

func (c *httpClient) MatchPerson(ctx context.Context, in MatchRequest) (*MatchResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/people/match", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "apollo: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "apollo: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.New("apollo", resp.StatusCode, respBody)
	}

	var out MatchResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "apollo: unmarshal response")
	}
	out.Raw = respBody
	return &out, nil
}
