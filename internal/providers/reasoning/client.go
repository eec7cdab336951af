// Package reasoning implements the text-reasoning port against a
// Gemini-style generateContent API.
package reasoning

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
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"comicforge/internal/domain"
)

// Options controls how the reasoning client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Constraints bound a single generation call.
type Constraints struct {
	Temperature     float64
	MaxOutputTokens int
}

// Client is a thin facade over the generateContent and embedContent
// endpoints. A circuit breaker sheds calls while the upstream is failing so
// worker slots are not burned on a dead service.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	embedModel string
	httpClient *http.Client
	logger     *zerolog.Logger
	breaker    *gobreaker.CircuitBreaker
}

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
}

type embedContentRequest struct {
	Content content `json:"content"`
}

type embedContentResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a reasoning client with sane defaults. Callers may
// provide a nil HTTP client; one with a sensible timeout is created.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("reasoning: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	embedModel := opts.EmbedModel
	if embedModel == "" {
		embedModel = "text-embedding-004"
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reasoning",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
		httpClient: httpClient,
		logger:     logger,
		breaker:    breaker,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate produces text for the structured prompt under the given
// constraints. Failures carry the port error taxonomy: rate limits and 5xx
// responses are transient, rejected input is permanent.
func (c *Client) Generate(ctx context.Context, prompt string, cons Constraints) (string, error) {
	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	}
	if cons.Temperature > 0 || cons.MaxOutputTokens > 0 {
		payload.GenerationConfig = &generationConfig{
			Temperature:     cons.Temperature,
			MaxOutputTokens: cons.MaxOutputTokens,
		}
	}

	var response generateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.model))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return "", err
	}

	for _, candidate := range response.Candidates {
		for _, p := range candidate.Content.Parts {
			if text := strings.TrimSpace(p.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", domain.NewPortError(domain.ErrKindTransient, "empty response from reasoning service", nil)
}

// Embed returns the embedding vector for text, used by similarity lookups.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := embedContentRequest{Content: content{Parts: []part{{Text: text}}}}

	var response embedContentResponse
	path := fmt.Sprintf("/models/%s:embedContent", url.PathEscape(c.embedModel))
	if err := c.invoke(ctx, path, payload, &response); err != nil {
		return nil, err
	}
	if len(response.Embedding.Values) == 0 {
		return nil, domain.NewPortError(domain.ErrKindTransient, "empty embedding from reasoning service", nil)
	}
	return response.Embedding.Values, nil
}

func (c *Client) invoke(ctx context.Context, path string, payload, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.do(ctx, path, payload, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewPortError(domain.ErrKindTransient, "reasoning service circuit open", err)
	}
	return err
}

func (c *Client) do(ctx context.Context, path string, payload, out any) error {
	endpoint := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewPortError(domain.ErrKindTransient, "reasoning call timed out", err)
		}
		return domain.NewPortError(domain.ErrKindTransient, "reasoning service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.NewPortError(domain.ErrKindTransient, "malformed reasoning response", err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	message := fmt.Sprintf("reasoning status %d", resp.StatusCode)
	var apiErr apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		message = fmt.Sprintf("reasoning status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	kind := classifyStatus(resp.StatusCode)
	c.logger.Warn().Int("status", resp.StatusCode).Str("kind", string(kind)).Msg("reasoning: call failed")
	return domain.NewPortError(kind, message, nil)
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.ErrKindTransient
	case code >= http.StatusInternalServerError:
		return domain.ErrKindTransient
	default:
		return domain.ErrKindPermanent
	}
}
