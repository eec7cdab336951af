// Package imagen implements the image-synthesis port against a Gemini-style
// image generation API.
package imagen

import (
	"bytes"
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

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"comicforge/internal/domain"
)

// Options controls how the image client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// StyleParams shape the rendered panel.
type StyleParams struct {
	VisualStyle string
	AspectRatio string
}

// ImageHandle is the normalized result of a render call.
type ImageHandle struct {
	Data []byte
	MIME string
}

// Client renders comic panels. Safety blocks map to permanent failures so
// the executor never retries rejected content.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zerolog.Logger
	breaker    *gobreaker.CircuitBreaker
}

type renderRequest struct {
	Contents []renderContent `json:"contents"`
}

type renderContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []renderPart `json:"parts"`
}

type renderPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type renderResponse struct {
	Candidates []struct {
		Content      renderContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs an image client with sane defaults.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("imagen: api key is required")
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "imagen-3.0-generate-002"
	}

	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "imagen",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
		breaker:    breaker,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Render synthesizes one panel image for the visual prompt.
func (c *Client) Render(ctx context.Context, visualPrompt string, style StyleParams) (ImageHandle, error) {
	prompt := visualPrompt
	if style.VisualStyle != "" {
		prompt = fmt.Sprintf("%s\n\nRender in %s style.", visualPrompt, style.VisualStyle)
	}
	if style.AspectRatio != "" {
		prompt = fmt.Sprintf("%s Aspect ratio %s.", prompt, style.AspectRatio)
	}

	payload := renderRequest{
		Contents: []renderContent{{Role: "user", Parts: []renderPart{{Text: prompt}}}},
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "image service circuit open", err)
	}
	if err != nil {
		return ImageHandle{}, err
	}
	return result.(ImageHandle), nil
}

func (c *Client) do(ctx context.Context, payload renderRequest) (ImageHandle, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	body, err := json.Marshal(payload)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ImageHandle{}, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "render call timed out", err)
		}
		return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "image service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return ImageHandle{}, c.statusError(resp)
	}

	var response renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "malformed image response", err)
	}

	if response.PromptFeedback != nil && response.PromptFeedback.BlockReason != "" {
		return ImageHandle{}, domain.NewPortError(domain.ErrKindPermanent,
			fmt.Sprintf("content rejected: %s", response.PromptFeedback.BlockReason), nil)
	}

	for _, candidate := range response.Candidates {
		if isSafetyFinish(candidate.FinishReason) {
			return ImageHandle{}, domain.NewPortError(domain.ErrKindPermanent,
				fmt.Sprintf("content rejected: %s", candidate.FinishReason), nil)
		}
		for _, p := range candidate.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "undecodable image payload", err)
			}
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return ImageHandle{Data: data, MIME: mime}, nil
		}
	}

	return ImageHandle{}, domain.NewPortError(domain.ErrKindTransient, "no image in response", nil)
}

func (c *Client) statusError(resp *http.Response) error {
	message := fmt.Sprintf("imagen status %d", resp.StatusCode)
	var apiErr apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
		message = fmt.Sprintf("imagen status %d: %s", resp.StatusCode, apiErr.Error.Message)
	}

	kind := classifyStatus(resp.StatusCode)
	c.logger.Warn().Int("status", resp.StatusCode).Str("kind", string(kind)).Msg("imagen: call failed")
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

func isSafetyFinish(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return true
	}
	return false
}
