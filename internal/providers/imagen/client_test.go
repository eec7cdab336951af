package imagen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"comicforge/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL, Model: "test-image-model"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestRenderDecodesInlineImage(t *testing.T) {
	pixels := []byte{0x89, 0x50, 0x4e, 0x47}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{
						"inlineData": map[string]any{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(pixels),
						},
					}},
				},
			}},
		})
	})

	handle, err := client.Render(context.Background(), "a leaf explaining sunlight", StyleParams{VisualStyle: "comic"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if handle.MIME != "image/png" {
		t.Fatalf("mime = %q", handle.MIME)
	}
	if !bytes.Equal(handle.Data, pixels) {
		t.Fatalf("data mismatch")
	}
}

func TestRenderSafetyBlockIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"finishReason": "IMAGE_SAFETY",
				"content":      map[string]any{"parts": []any{}},
			}},
		})
	})

	_, err := client.Render(context.Background(), "prompt", StyleParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := domain.KindOf(err); kind != domain.ErrKindPermanent {
		t.Fatalf("kind = %s, want permanent", kind)
	}
}

func TestRenderPromptFeedbackBlockIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		})
	})

	_, err := client.Render(context.Background(), "prompt", StyleParams{})
	if kind := domain.KindOf(err); kind != domain.ErrKindPermanent {
		t.Fatalf("kind = %s, want permanent", kind)
	}
}

func TestRenderRateLimitIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Render(context.Background(), "prompt", StyleParams{})
	if kind := domain.KindOf(err); kind != domain.ErrKindTransient {
		t.Fatalf("kind = %s, want transient", kind)
	}
}

func TestNewClientTransportTimeoutCoversRenderWindow(t *testing.T) {
	client, err := NewClient(Options{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	// The default render window is twice the default stage timeout; the
	// transport must not cut calls off before the per-stage deadline does.
	if client.httpClient.Timeout != 120*time.Second {
		t.Fatalf("default transport timeout = %v, want 120s", client.httpClient.Timeout)
	}

	custom := &http.Client{Timeout: 300 * time.Second}
	client, err = NewClient(Options{APIKey: "test-key", HTTPClient: custom})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.httpClient != custom {
		t.Fatal("caller-provided transport replaced")
	}
}
