// Package llmtap intercepts model-provider HTTP traffic and feeds it to a
// Recorder as llm_call events. It is a producer of the recording core, not a
// part of it: wrap a provider SDK's http.Client transport and every chat
// completion round trip gets recorded transparently.
package llmtap

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"retrace/internal/event"
	"retrace/internal/logging"
	"retrace/internal/record"
	"retrace/internal/session"
)

// Transport records llm_call events for OpenAI- and Anthropic-style chat
// endpoints passing through it. Requests to other paths are forwarded
// untouched, and recording failures never fail the provider call.
type Transport struct {
	base   http.RoundTripper
	rec    *record.Recorder
	logger logging.Logger
}

// New wraps base (http.DefaultTransport when nil) with recording.
func New(rec *record.Recorder, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:   base,
		rec:    rec,
		logger: logging.NewComponentLogger("LLMTap"),
	}
}

// Client returns an http.Client that records through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isChatEndpoint(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	durationMS := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		if _, recErr := t.rec.RecordError(err, map[string]any{"endpoint": req.URL.Path}); recErr != nil {
			t.logger.Warn("Failed to record transport error: %v", recErr)
		}
		return nil, err
	}

	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	t.recordCall(reqBody, respBody, durationMS)
	return resp, nil
}

func isChatEndpoint(path string) bool {
	return strings.HasSuffix(path, "/chat/completions") || strings.HasSuffix(path, "/messages")
}

// chatRequest covers the request fields shared by both provider dialects.
type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"messages"`
}

// chatResponse covers both the OpenAI and the Anthropic response shapes;
// unused fields simply stay zero.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
	} `json:"usage"`
}

func (t *Transport) recordCall(reqBody, respBody []byte, durationMS float64) {
	var creq chatRequest
	if err := json.Unmarshal(reqBody, &creq); err != nil {
		t.logger.Debug("Unparseable chat request, skipping record: %v", err)
		return
	}

	var cresp chatResponse
	if err := json.Unmarshal(respBody, &cresp); err != nil {
		t.logger.Debug("Unparseable chat response, skipping record: %v", err)
		return
	}

	text := responseText(cresp)
	tokens := event.Tokens{
		Input:  firstNonZero(cresp.Usage.PromptTokens, cresp.Usage.InputTokens),
		Output: firstNonZero(cresp.Usage.CompletionTokens, cresp.Usage.OutputTokens),
	}
	// Some providers omit usage on streaming or older endpoints; estimate so
	// the recorded call still carries plausible counts.
	if tokens.Input == 0 {
		tokens.Input = CountTokens(promptText(creq))
	}
	if tokens.Output == 0 {
		tokens.Output = CountTokens(text)
	}

	model := creq.Model
	if model == "" {
		model = cresp.Model
	}
	if model == "" {
		model = "unknown"
	}

	var prompt any
	if err := json.Unmarshal(reqBody, &prompt); err != nil {
		prompt = string(reqBody)
	}
	if m, ok := prompt.(map[string]any); ok {
		if msgs, ok := m["messages"]; ok {
			prompt = msgs
		}
	}

	if _, err := t.rec.RecordLLMCall(model, prompt, text, tokens, session.WithDuration(durationMS)); err != nil {
		t.logger.Warn("Failed to record llm_call: %v", err)
	}
}

func responseText(resp chatResponse) string {
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content
	}
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text
		}
	}
	return ""
}

func promptText(req chatRequest) string {
	var b strings.Builder
	for _, msg := range req.Messages {
		if s, ok := msg.Content.(string); ok {
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
