package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/minios-linux/lokstudio/tools"
)

// maxToolRounds bounds the function-call exchanges within one request.
const maxToolRounds = 6

// openAIGenerator talks to any OpenAI-compatible chat completions API.
type openAIGenerator struct {
	prov   Provider
	client *openai.Client
	rl     *rateLimitState
}

func newOpenAI(p Provider) *openAIGenerator {
	cfg := openai.DefaultConfig(p.APIKey)
	if p.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(p.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: p.effectiveTimeout()}
	return &openAIGenerator{prov: p, client: openai.NewClientWithConfig(cfg), rl: &rateLimitState{}}
}

func (g *openAIGenerator) request(p Prompt) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       g.prov.Model,
		Temperature: g.prov.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if p.Tools != nil {
		req.Tools = tools.Definitions
	}
	return req
}

// apiError converts client errors into statusError so withRetry can tell
// rate limits and server faults apart.
func (g *openAIGenerator) apiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &statusError{Provider: g.prov.Name, Status: apiErr.HTTPStatusCode, Body: []byte(apiErr.Message)}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &statusError{Provider: g.prov.Name, Status: reqErr.HTTPStatusCode, Body: []byte(reqErr.Error())}
	}
	return err
}

// Generate runs a chat completion, executing tool calls until the model
// answers with content.
func (g *openAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	req := g.request(p)
	for round := 0; ; round++ {
		var resp openai.ChatCompletionResponse
		err := withRetry(ctx, &g.prov, g.rl, func() error {
			var err error
			resp, err = g.client.CreateChatCompletion(ctx, req)
			return g.apiError(err)
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%s: no choices returned", g.prov.Name)
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || p.Tools == nil {
			return msg.Content, nil
		}
		if round >= maxToolRounds {
			return "", fmt.Errorf("%s: too many tool-call rounds", g.prov.Name)
		}
		req.Messages = appendToolResults(req.Messages, msg.Content, msg.ToolCalls, p.Tools)
	}
}

func (g *openAIGenerator) Stream(ctx context.Context, p Prompt) (Stream, error) {
	s := &openAIStream{g: g, ctx: ctx, req: g.request(p), tools: p.Tools}
	s.req.Stream = true
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func appendToolResults(msgs []openai.ChatCompletionMessage, content string, calls []openai.ToolCall, tb *tools.Toolbox) []openai.ChatCompletionMessage {
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   content,
		ToolCalls: calls,
	})
	for _, tc := range calls {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    tb.Dispatch(tc.Function.Name, tc.Function.Arguments),
			ToolCallID: tc.ID,
		})
	}
	return msgs
}

// ---------------------------------------------------------------------------
// Streaming with function calls
// ---------------------------------------------------------------------------

// openAIStream forwards content deltas. When a response ends with tool
// calls, the calls are executed and a follow-up request is streamed in
// the same Stream.
type openAIStream struct {
	g     *openAIGenerator
	ctx   context.Context
	req   openai.ChatCompletionRequest
	tools *tools.Toolbox

	cur     *openai.ChatCompletionStream
	calls   []openai.ToolCall
	content strings.Builder
	rounds  int
}

func (s *openAIStream) open() error {
	return withRetry(s.ctx, &s.g.prov, s.g.rl, func() error {
		st, err := s.g.client.CreateChatCompletionStream(s.ctx, s.req)
		if err != nil {
			return s.g.apiError(err)
		}
		s.cur = st
		return nil
	})
}

func (s *openAIStream) Recv() (string, error) {
	for {
		if s.cur == nil {
			return "", io.EOF
		}
		resp, err := s.cur.Recv()
		if errors.Is(err, io.EOF) {
			s.cur.Close()
			s.cur = nil
			if len(s.calls) == 0 || s.tools == nil {
				return "", io.EOF
			}
			if s.rounds >= maxToolRounds {
				return "", fmt.Errorf("%s: too many tool-call rounds", s.g.prov.Name)
			}
			s.rounds++
			s.g.prov.debug("executing %d tool call(s)", len(s.calls))
			s.req.Messages = appendToolResults(s.req.Messages, s.content.String(), s.calls, s.tools)
			s.calls = nil
			s.content.Reset()
			if err := s.open(); err != nil {
				return "", err
			}
			continue
		}
		if err != nil {
			return "", s.g.apiError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			s.mergeCall(tc)
		}
		if delta.Content != "" {
			s.content.WriteString(delta.Content)
			return delta.Content, nil
		}
	}
}

// mergeCall assembles a tool call from its streamed fragments.
func (s *openAIStream) mergeCall(tc openai.ToolCall) {
	i := len(s.calls)
	if tc.Index != nil {
		i = *tc.Index
	} else if tc.ID == "" && i > 0 {
		i--
	}
	for len(s.calls) <= i {
		s.calls = append(s.calls, openai.ToolCall{Type: openai.ToolTypeFunction})
	}
	c := &s.calls[i]
	if tc.ID != "" {
		c.ID = tc.ID
	}
	if tc.Function.Name != "" {
		c.Function.Name += tc.Function.Name
	}
	c.Function.Arguments += tc.Function.Arguments
}

func (s *openAIStream) Close() error {
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
	return nil
}
