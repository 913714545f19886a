package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// DefaultTTSEndpoint is the public text-to-speech route the board's
// deployments use when no private TTS service is configured.
const DefaultTTSEndpoint = "https://translate.google.com/translate_tts"

var _ Engine = (*HTTPEngine)(nil)

// HTTPEngine renders speech through an HTTP text-to-speech endpoint that
// streams MP3 audio back for a `q`/`tl` query pair.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// EngineOption configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithHTTPClient replaces the engine's HTTP client.
func WithHTTPClient(client *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		if client != nil {
			e.client = client
		}
	}
}

// NewHTTPEngine returns an engine talking to endpoint; an empty endpoint
// selects DefaultTTSEndpoint.
func NewHTTPEngine(endpoint string, opts ...EngineOption) *HTTPEngine {
	if endpoint == "" {
		endpoint = DefaultTTSEndpoint
	}
	e := &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HTTPEngine) Render(ctx context.Context, text, lang, dst string) error {
	q := url.Values{
		"ie":     {"UTF-8"},
		"client": {"tw-ob"},
		"q":      {text},
		"tl":     {lang},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("audio: build tts request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("audio: tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audio: tts endpoint returned %s", resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: write %s: %w", dst, err)
	}
	return f.Close()
}
