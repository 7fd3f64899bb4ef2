package translate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-resty/resty/v2"
)

// ollamaGenerator uses the native /api/chat endpoint. Streaming responses
// are newline-delimited JSON objects.
type ollamaGenerator struct {
	prov Provider
	http *resty.Client
	rl   *rateLimitState
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func newOllama(p Provider) *ollamaGenerator {
	c := resty.New().SetTimeout(p.effectiveTimeout())
	return &ollamaGenerator{prov: p, http: c, rl: &rateLimitState{}}
}

func (g *ollamaGenerator) url() string {
	base := g.prov.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	return strings.TrimRight(base, "/") + "/api/chat"
}

func (g *ollamaGenerator) body(p Prompt, stream bool) map[string]any {
	body := map[string]any{
		"model": g.prov.Model,
		"messages": []ollamaMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		"stream": stream,
	}
	if p.JSON {
		body["format"] = "json"
	}
	if g.prov.Temperature > 0 {
		body["options"] = map[string]any{"temperature": g.prov.Temperature}
	}
	return body
}

func (g *ollamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	var out ollamaChunk
	err := withRetry(ctx, &g.prov, g.rl, func() error {
		rr, err := g.http.R().SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(g.body(p, false)).
			SetResult(&out).
			Post(g.url())
		if err != nil {
			return err
		}
		if rr.IsError() {
			return &statusError{Provider: g.prov.Name, Status: rr.StatusCode(), Body: rr.Body()}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("%s: %s", g.prov.Name, out.Error)
	}
	return out.Message.Content, nil
}

func (g *ollamaGenerator) Stream(ctx context.Context, p Prompt) (Stream, error) {
	var body io.ReadCloser
	err := withRetry(ctx, &g.prov, g.rl, func() error {
		rr, err := g.http.R().SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(g.body(p, true)).
			SetDoNotParseResponse(true).
			Post(g.url())
		if err != nil {
			return err
		}
		if rr.IsError() {
			raw := rr.RawBody()
			data, _ := io.ReadAll(io.LimitReader(raw, 4096))
			raw.Close()
			return &statusError{Provider: g.prov.Name, Status: rr.StatusCode(), Body: data}
		}
		body = rr.RawBody()
		return nil
	})
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &ollamaStream{name: g.prov.Name, body: body, sc: sc}, nil
}

type ollamaStream struct {
	name string
	body io.ReadCloser
	sc   *bufio.Scanner
	done bool
}

func (s *ollamaStream) Recv() (string, error) {
	for !s.done && s.sc.Scan() {
		line := strings.TrimSpace(s.sc.Text())
		if line == "" {
			continue
		}
		var chunk ollamaChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("%s: invalid stream chunk: %w", s.name, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%s: %s", s.name, chunk.Error)
		}
		s.done = chunk.Done
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	if err := s.sc.Err(); err != nil {
		return "", fmt.Errorf("%s: reading stream: %w", s.name, err)
	}
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
