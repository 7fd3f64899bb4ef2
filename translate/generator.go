package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minios-linux/lokstudio/tools"
)

// ---------------------------------------------------------------------------
// Generation capability
// ---------------------------------------------------------------------------

// Prompt is one generation request.
type Prompt struct {
	System string
	User   string
	// JSON asks the provider to constrain output to a JSON object.
	JSON bool
	// Tools, when set, are offered to the model as callable functions.
	// Providers without function calling ignore them.
	Tools *tools.Toolbox
}

// Generator is an external text-generation service.
type Generator interface {
	// Generate returns the complete response text.
	Generate(ctx context.Context, p Prompt) (string, error)
	// Stream returns the response text incrementally.
	Stream(ctx context.Context, p Prompt) (Stream, error)
}

// Stream yields response chunks. Recv returns io.EOF after the last chunk.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderGroq         = "groq"
	ProviderOpenRouter   = "openrouter"
	ProviderCustomOpenAI = "custom-openai"
	ProviderOllama       = "ollama"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for a generation service.
type Provider struct {
	// ID is the provider identifier (openai, groq, ollama, etc.).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Timeout is the request timeout.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries on 429 and 5xx. Default: 3.
	MaxRetries int
	// Temperature for sampling. Zero uses the provider default.
	Temperature float32
	// OnLog receives retry and debug messages.
	OnLog func(format string, args ...any)
	// Verbose enables request-level debug messages.
	Verbose bool
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		ProviderOpenRouter: {
			ID:      ProviderOpenRouter,
			Name:    "OpenRouter",
			BaseURL: "https://openrouter.ai/api/v1",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434",
			Timeout: 120 * time.Second,
		},
	}
}

// ProviderIDs lists the known provider ids in display order.
func ProviderIDs() []string {
	return []string{ProviderOpenAI, ProviderGroq, ProviderOpenRouter, ProviderCustomOpenAI, ProviderOllama}
}

// NeedsAPIKey reports whether the provider requires an API key.
func NeedsAPIKey(id string) bool {
	return id != ProviderOllama
}

// NewGenerator creates a generator for p. Unknown ids are treated as
// OpenAI-compatible endpoints.
func NewGenerator(p Provider) (Generator, error) {
	if p.Model == "" && p.ID != ProviderOpenRouter {
		if def, ok := DefaultProviders()[p.ID]; ok {
			p.Model = def.Model
		}
	}
	if p.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", p.ID)
	}
	switch p.ID {
	case ProviderOllama:
		return newOllama(p), nil
	case ProviderCustomOpenAI:
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base URL is required", p.ID)
		}
	}
	if NeedsAPIKey(p.ID) && p.APIKey == "" {
		return nil, fmt.Errorf("provider %s: API key is required", p.ID)
	}
	return newOpenAI(p), nil
}

func (p *Provider) log(format string, args ...any) {
	if p.OnLog != nil {
		p.OnLog(format, args...)
	}
}

func (p *Provider) debug(format string, args ...any) {
	if p.Verbose {
		p.log("[DEBUG] "+format, args...)
	}
}

func (p *Provider) effectiveTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 120 * time.Second
}

func (p *Provider) effectiveMaxRetries() int {
	if p.MaxRetries > 0 {
		return p.MaxRetries
	}
	return 3
}

// ---------------------------------------------------------------------------
// Rate limit state (shared pause across requests of one generator)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Retry loop
// ---------------------------------------------------------------------------

// statusError is a non-2xx response from a provider.
type statusError struct {
	Provider string
	Status   int
	Body     []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, truncate(string(e.Body), 500))
}

// backoff is the wait before retry number attempt+1.
var backoff = func(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// withRetry runs call until it succeeds, fails permanently or the retry
// budget is spent. Transport errors and 5xx back off exponentially; 429
// pauses every request sharing rl for the advertised delay.
func withRetry(ctx context.Context, p *Provider, rl *rateLimitState, call func() error) error {
	maxRetries := p.effectiveMaxRetries()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := rl.waitIfPaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.debug("%s attempt %d", p.Name, attempt+1)

		err := call()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var wait time.Duration
		var se *statusError
		switch {
		case errors.As(err, &se) && se.Status == 429:
			wait = parseRetryDelay(se.Body)
			p.log("[WARN] %s rate limited, waiting %v before retry (attempt %d/%d)", p.Name, wait, attempt+1, maxRetries)
			rl.pause(wait)
		case errors.As(err, &se) && se.Status < 500:
			return err
		default:
			wait = backoff(attempt)
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		rl.unpause()
	}
	var se *statusError
	if errors.As(lastErr, &se) && se.Status == 429 {
		return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
	}
	return fmt.Errorf("exhausted all %d retries: %w", maxRetries, lastErr)
}

// parseRetryDelay extracts the retry delay from a 429 response body.
// It understands Google's RetryInfo detail and OpenAI-style "try again in
// Ns" messages, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		errResp.Error.Message = string(body)
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	if m := retryInMessage.FindStringSubmatch(errResp.Error.Message); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(secs*1000)*time.Millisecond + time.Second
		}
	}

	return defaultDelay
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
