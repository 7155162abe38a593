package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"medquiz-service/internal/domain"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 30 * time.Second

	opGenerate = "generate"
	opDoubt    = "doubt"
)

// Config describes the chat-completion endpoint.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig targets the Groq OpenAI-compatible API.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Credential is a user-supplied API key. The zero value is NoCredential.
type Credential struct {
	key string
}

// NoCredential means no key was supplied; calls fail without touching the network.
var NoCredential = Credential{}

// NewCredential trims the raw key; blank input yields NoCredential.
func NewCredential(raw string) Credential {
	return Credential{key: strings.TrimSpace(raw)}
}

// Present reports whether a key is set.
func (c Credential) Present() bool {
	return c.key != ""
}

// String never prints the key.
func (c Credential) String() string {
	if !c.Present() {
		return "<none>"
	}
	return "<redacted>"
}

// Observer receives one sample per outbound call.
type Observer interface {
	ObserveLLM(operation, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveLLM(string, string, time.Duration) {}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRand fixes the source used for question types and seeds.
func WithRand(r *rand.Rand) Option {
	return func(c *Client) {
		if r != nil {
			c.rnd = &lockedRand{r: r}
		}
	}
}

// WithObserver reports call outcomes, e.g. to prometheus.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// Client talks to an OpenAI-compatible chat-completion endpoint on behalf of one user.
type Client struct {
	cfg      Config
	cred     Credential
	http     *http.Client
	rnd      *lockedRand
	observer Observer
	now      func() time.Time
}

// New builds a client. The credential may be NoCredential.
func New(cfg Config, cred Credential, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg.withDefaults(),
		cred:     cred,
		http:     http.DefaultClient,
		rnd:      &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))},
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredential derives a client for another key sharing transport and randomness.
func (c *Client) WithCredential(cred Credential) *Client {
	clone := *c
	clone.cred = cred
	return &clone
}

// HasCredential reports whether calls can be attempted.
func (c *Client) HasCredential() bool {
	return c.cred.Present()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete performs one chat-completion round trip and returns the first choice's content.
func (c *Client) complete(ctx context.Context, operation string, messages []chatMessage) (content string, err error) {
	started := c.now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(domain.AsFailure(err).Kind)
		}
		c.observer.ObserveLLM(operation, outcome, c.now().Sub(started))
	}()

	if !c.cred.Present() {
		return "", domain.NewFailure(domain.FailureMissingCredential, 0, errors.New("no API key configured"))
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", domain.NewFailure(domain.FailureNetwork, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cred.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.NewFailure(domain.FailureNetwork, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(resp)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", domain.NewFailure(domain.FailureMalformedResponse, resp.StatusCode, fmt.Errorf("decode chat response: %w", err))
	}
	if len(payload.Choices) == 0 {
		return "", domain.NewFailure(domain.FailureMalformedResponse, resp.StatusCode, errors.New("no choices in response"))
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func classifyStatus(resp *http.Response) *domain.Failure {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Errorf("chat completion returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewFailure(domain.FailureInvalidCredential, resp.StatusCode, detail)
	case http.StatusTooManyRequests:
		return domain.NewFailure(domain.FailureRateLimited, resp.StatusCode, detail)
	default:
		return domain.NewFailure(domain.FailureNetwork, resp.StatusCode, detail)
	}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}
