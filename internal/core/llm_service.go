package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"gwi.com/answer-engine/internal/metrics"
)

const (
	defaultPrimaryModel  = "gemini-2.5-flash"
	defaultFallbackModel = "gemini-2.0-flash-lite"

	rephraseTemperature = float32(0.3)
	rephraseMaxTokens   = int32(100)

	transformTemperature = float32(0.7)
	transformMaxTokens   = int32(2048)

	msgGenerationFailed  = "Failed to generate AI answer"
	msgBothModelsFailed  = "Both primary and fallback models failed. Please try again later."
	defaultStreamTimeout = 120 * time.Second
	defaultCallTimeout   = 30 * time.Second
)

var quotaMarkers = []string{"quota", "rate limit", "rate_limit", "exceeded", "resource_exhausted"}

type LLMConfig struct {
	PrimaryModel   string
	FallbackModel  string
	UseFallback    bool
	StreamTimeout  time.Duration
	RequestTimeout time.Duration
}

// answerStreamer streams a completion for one model, calling onChunk with
// every text delta.
type answerStreamer interface {
	Stream(ctx context.Context, model, prompt string, onChunk func(string) error) (string, error)
}

// completer runs a single-shot, non-streaming completion.
type completer interface {
	Complete(ctx context.Context, model, prompt string, temperature float32, maxTokens int32) (string, error)
}

type LLMService struct {
	client    *genai.Client
	streamer  answerStreamer
	completer completer
	cfg       LLMConfig
	logger    *zap.Logger
}

// NewLLMService wires the streaming client and the genai SDK client. client may
// be nil when no API key is configured; calls then fail with ErrMissingAPIKey.
func NewLLMService(client *genai.Client, streamer *GeminiStreamer, cfg LLMConfig, logger *zap.Logger) *LLMService {
	if cfg.PrimaryModel == "" {
		cfg.PrimaryModel = defaultPrimaryModel
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = defaultFallbackModel
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultCallTimeout
	}
	svc := &LLMService{
		client:    client,
		completer: &genaiCompleter{client: client},
		cfg:       cfg,
		logger:    logger,
	}
	if streamer != nil {
		svc.streamer = streamer
	}
	return svc
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing genai client", zap.Error(err))
		} else {
			s.logger.Info("genai client closed")
		}
	}
}

// GenerateAnswer streams an answer for query grounded on sources. The primary
// model is tried first; a quota classified failure is retried once on the
// fallback model with the same prompt and callback. Errors returned after the
// caller's context ends are the context error, never a GenerationError.
func (s *LLMService) GenerateAnswer(ctx context.Context, query string, sources []SearchResult, style AnswerLength, p *Personalization, onChunk func(string) error) (*AnswerResult, error) {
	prompt := BuildPrompt(query, sources, style, p)

	var callbackErr error
	forward := func(text string) error {
		if err := onChunk(text); err != nil {
			callbackErr = err
			return err
		}
		return nil
	}

	err := s.streamModel(ctx, s.cfg.PrimaryModel, prompt, forward)
	if err == nil {
		return &AnswerResult{Followups: FollowUpQuestions(query), ModelUsed: s.cfg.PrimaryModel}, nil
	}
	if callbackErr != nil {
		return nil, callbackErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if !s.cfg.UseFallback || !IsQuotaExceeded(err) {
		s.logger.Error("primary model failed", zap.String("model", s.cfg.PrimaryModel), zap.Error(err))
		return nil, &GenerationError{Message: msgGenerationFailed, Cause: err}
	}

	s.logger.Warn("quota exceeded, falling back",
		zap.String("primary", s.cfg.PrimaryModel),
		zap.String("fallback", s.cfg.FallbackModel),
		zap.Error(err),
	)

	fallbackErr := s.streamModel(ctx, s.cfg.FallbackModel, prompt, forward)
	if fallbackErr == nil {
		metrics.LLMFallbacksTotal.WithLabelValues("success").Inc()
		return &AnswerResult{Followups: FollowUpQuestions(query), ModelUsed: s.cfg.FallbackModel}, nil
	}
	if callbackErr != nil {
		return nil, callbackErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	metrics.LLMFallbacksTotal.WithLabelValues("failure").Inc()
	s.logger.Error("fallback model failed", zap.String("model", s.cfg.FallbackModel), zap.Error(fallbackErr))
	return nil, &GenerationError{Message: msgBothModelsFailed, Cause: errors.Join(ErrBothModelsFailed, fallbackErr)}
}

func (s *LLMService) streamModel(ctx context.Context, model, prompt string, onChunk func(string) error) error {
	if s.streamer == nil {
		return ErrMissingAPIKey
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.streamer.Stream(ctx, model, prompt, onChunk)

	status := "success"
	switch {
	case err == nil:
	case IsQuotaExceeded(err):
		status = "quota"
	default:
		status = "error"
	}
	metrics.RecordLLMStream(model, status, time.Since(start).Seconds())
	return err
}

// Rephrase rewrites query for web search. An empty model answer yields the
// original query.
func (s *LLMService) Rephrase(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	out, err := s.completer.Complete(ctx, s.cfg.PrimaryModel, rephrasePrompt(query), rephraseTemperature, rephraseMaxTokens)
	if err != nil {
		return query, fmt.Errorf("rephrase failed: %w", err)
	}
	if out = strings.TrimSpace(out); out == "" {
		return query, nil
	}
	return out, nil
}

// Transform runs prompt, which the caller builds around text, and returns the
// model output or text itself when the output is empty.
func (s *LLMService) Transform(ctx context.Context, text, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	out, err := s.completer.Complete(ctx, s.cfg.PrimaryModel, prompt, transformTemperature, transformMaxTokens)
	if err != nil {
		return "", fmt.Errorf("transform failed: %w", err)
	}
	if out = strings.TrimSpace(out); out == "" {
		return text, nil
	}
	return out, nil
}

// IsQuotaExceeded reports whether err looks like a usage limit rejection: an
// HTTP 429 from any of the Google clients, or a quota marker in the message.
// Context errors never qualify even though "deadline exceeded" matches.
func IsQuotaExceeded(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Status == http.StatusTooManyRequests || containsQuotaMarker(upstream.Details) {
			return true
		}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}

	// gax apierror.APIError, returned by the genai SDK.
	var httpCoder interface{ HTTPCode() int }
	if errors.As(err, &httpCoder) && httpCoder.HTTPCode() == http.StatusTooManyRequests {
		return true
	}

	return containsQuotaMarker(err.Error())
}

func containsQuotaMarker(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range quotaMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

type genaiCompleter struct {
	client *genai.Client
}

func (g *genaiCompleter) Complete(ctx context.Context, modelName, prompt string, temperature float32, maxTokens int32) (string, error) {
	if g.client == nil {
		return "", ErrMissingAPIKey
	}
	model := g.client.GenerativeModel(modelName)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temperature,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return text.String(), nil
}
