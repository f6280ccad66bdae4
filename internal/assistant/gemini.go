package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultGeminiModel   = "gemini-2.0-flash"

	maxResponseBytes = 1 << 20
)

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

type geminiErrorBody struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Gemini talks to the generateContent endpoint.
type Gemini struct {
	apiKey   string
	model    string
	baseURL  string
	preamble string
	timeout  time.Duration
	http     *http.Client
}

type GeminiOption func(*Gemini)

func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.http = c }
}

func WithGeminiPreamble(p string) GeminiOption {
	return func(g *Gemini) { g.preamble = p }
}

// WithGeminiTimeout bounds each call, including reading the body.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *Gemini) { g.timeout = d }
}

func NewGemini(apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key must not be empty")
	}
	g := &Gemini{
		apiKey:   apiKey,
		model:    DefaultGeminiModel,
		baseURL:  DefaultGeminiBaseURL,
		preamble: DefaultPreamble,
		timeout:  DefaultTimeout,
		http:     http.DefaultClient,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Ask(ctx context.Context, transcript string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: g.preamble}, {Text: transcript}},
		}},
	})
	if err != nil {
		return "", &Error{Provider: g.Name(), Reason: "marshal request", Err: err}
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: g.Name(), Reason: "create request", Err: stripURL(err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", transportError(g.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(g.Name(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Provider: g.Name(), StatusCode: resp.StatusCode, Reason: errorReason(raw)}
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &Error{Provider: g.Name(), Reason: "malformed response", Err: err}
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Provider: g.Name(), Reason: "response has no candidates"}
	}

	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", &Error{Provider: g.Name(), Reason: "empty reply"}
	}
	return text, nil
}

// errorReason prefers the API's own message, falling back to a short body.
func errorReason(raw []byte) string {
	var eb geminiErrorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}
