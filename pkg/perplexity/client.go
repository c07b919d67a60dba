// Package perplexity finds public professional profiles for an email address
// through the Perplexity search-augmented chat API.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/participant-enrichment/pkg/apierr"
)

const (
	defaultBaseURL = "https://api.perplexity.ai"
	defaultModel   = "sonar-pro"
	profileDomain  = "linkedin.com"
)

const profilePrompt = `Find the LinkedIn profile of the professional who uses the email address %s%s.
Report their full name, current job title, current employer, location, and LinkedIn profile URL.
If you cannot identify the person with reasonable certainty, say so. Return the raw information as text.`

// Client looks up people by email.
type Client interface {
	FindProfile(ctx context.Context, q ProfileQuery) (*Profile, error)
}

// ProfileQuery identifies the person to research.
type ProfileQuery struct {
	Email       string
	DisplayName string
}

// Profile is the search answer for one person. Notes is free text; URL is
// the first cited profile page, if any.
type Profile struct {
	Notes     string
	URL       string
	Citations []string
	Usage     Usage
}

// Found reports whether the search returned any notes.
func (p *Profile) Found() bool {
	return p != nil && strings.TrimSpace(p.Notes) != ""
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model              string    `json:"model"`
	Messages           []message `json:"messages"`
	Temperature        *float64  `json:"temperature,omitempty"`
	SearchDomainFilter []string  `json:"search_domain_filter,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
	Usage     Usage    `json:"usage"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) { c.baseURL = url }
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) { c.model = model }
}

// WithTemperature sets the sampling temperature. Unset leaves the API default.
func WithTemperature(t float64) Option {
	return func(c *httpClient) { c.temperature = &t }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature *float64
	http        *http.Client
}

// NewClient creates a Perplexity profile search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FindProfile searches for the person behind q.Email, restricted to
// professional profile pages.
func (c *httpClient) FindProfile(ctx context.Context, q ProfileQuery) (*Profile, error) {
	if strings.TrimSpace(q.Email) == "" {
		return nil, eris.New("perplexity: email is required")
	}
	hint := ""
	if q.DisplayName != "" {
		hint = fmt.Sprintf(" (name shown in their calendar: %q)", q.DisplayName)
	}

	resp, err := c.chat(ctx, chatRequest{
		Model:              c.model,
		Messages:           []message{{Role: "user", Content: fmt.Sprintf(profilePrompt, q.Email, hint)}},
		Temperature:        c.temperature,
		SearchDomainFilter: []string{profileDomain},
	})
	if err != nil {
		return nil, err
	}

	p := &Profile{Citations: resp.Citations, Usage: resp.Usage}
	if len(resp.Choices) > 0 {
		p.Notes = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	p.URL = ProfileURL(resp.Citations)
	return p, nil
}

func (c *httpClient) chat(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "perplexity: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.New("perplexity", resp.StatusCode, respBody)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "perplexity: unmarshal response")
	}
	return &out, nil
}

// ProfileURL returns the first citation that points at a personal profile
// page ("/in/" path) on the professional network, or "".
func ProfileURL(citations []string) string {
	for _, c := range citations {
		l := strings.ToLower(c)
		if strings.Contains(l, profileDomain+"/in/") {
			return c
		}
	}
	return ""
}
