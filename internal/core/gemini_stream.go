package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// GenerationSettings mirrors the generationConfig block of a Gemini request.
type GenerationSettings struct {
	Temperature     float32 `json:"temperature"`
	TopK            int     `json:"topK,omitempty"`
	TopP            float32 `json:"topP,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

// GeminiStreamer calls the REST streamGenerateContent endpoint, which answers
// with a single JSON array whose elements arrive progressively.
type GeminiStreamer struct {
	apiKey     string
	baseURL    string
	settings   GenerationSettings
	httpClient *http.Client
}

func NewGeminiStreamer(apiKey, baseURL string, settings GenerationSettings) *GeminiStreamer {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiStreamer{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		settings:   settings,
		httpClient: &http.Client{},
	}
}

type geminiRequest struct {
	Contents         []geminiContent    `json:"contents"`
	GenerationConfig GenerationSettings `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiChunk is one element of the streamed array.
type geminiChunk struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *geminiChunk) text() string {
	if len(c.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range c.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// Stream sends prompt to model and calls onChunk with every new text delta in
// arrival order. It returns the accumulated text. An error from onChunk stops
// the stream and is returned as is.
func (g *GeminiStreamer) Stream(ctx context.Context, model, prompt string, onChunk func(string) error) (string, error) {
	if g.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: g.settings,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/models/%s:streamGenerateContent", g.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return "", &UpstreamError{
			Status:  resp.StatusCode,
			Message: "Gemini API error: " + http.StatusText(resp.StatusCode),
			Details: string(details),
		}
	}

	var full strings.Builder
	parser := &streamParser{onText: func(text string) error {
		full.WriteString(text)
		return onChunk(text)
	}}

	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := parser.Feed(buf[:n]); err != nil {
				return full.String(), err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return full.String(), ctxErr
			}
			return full.String(), fmt.Errorf("gemini stream read failed: %w", readErr)
		}
	}
	if err := parser.Flush(); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

// streamParser splits the streamed array into lines and decodes every line
// that holds a complete element. Array punctuation and lines that do not
// decode are skipped; an incomplete trailing line waits for more bytes.
type streamParser struct {
	buf    []byte
	onText func(string) error
}

func (p *streamParser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			return nil
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		if err := p.handleLine(line); err != nil {
			return err
		}
	}
}

// Flush handles whatever is left once the body is exhausted.
func (p *streamParser) Flush() error {
	line := p.buf
	p.buf = nil
	return p.handleLine(line)
}

func (p *streamParser) handleLine(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.Equal(line, []byte("[")) || bytes.Equal(line, []byte("]")) {
		return nil
	}
	line = bytes.TrimPrefix(line, []byte("["))
	line = bytes.TrimSuffix(line, []byte(","))
	line = bytes.TrimSuffix(line, []byte("]"))

	var chunk geminiChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil
	}
	if chunk.Error != nil {
		return &UpstreamError{
			Status:  chunk.Error.Code,
			Message: "Gemini API error: " + chunk.Error.Message,
			Details: chunk.Error.Status,
		}
	}
	if text := chunk.text(); text != "" {
		return p.onText(text)
	}
	return nil
}
