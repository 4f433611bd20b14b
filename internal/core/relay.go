package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"gwi.com/answer-engine/internal/metrics"
	"gwi.com/answer-engine/internal/utils"
)

// RelayState is a phase of one answer stream.
type RelayState string

const (
	StateAdmitted    RelayState = "admitted"
	StateSearching   RelayState = "searching"
	StateSourcesSent RelayState = "sources_sent"
	StateGenerating  RelayState = "generating"
	StateDone        RelayState = "done"
	StateFailed      RelayState = "failed"
	StateAborted     RelayState = "aborted"
)

type Searcher interface {
	Search(ctx context.Context, query string) []SearchResult
}

type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, query string, sources []SearchResult, style AnswerLength, p *Personalization, onChunk func(string) error) (*AnswerResult, error)
}

// AnswerRelay runs search then generation for one request and turns both into
// an ordered sequence of StreamEvents.
type AnswerRelay struct {
	searcher  Searcher
	generator AnswerGenerator
	limiter   *RateLimiter
	logger    *zap.Logger
}

func NewAnswerRelay(searcher Searcher, generator AnswerGenerator, limiter *RateLimiter, logger *zap.Logger) *AnswerRelay {
	return &AnswerRelay{
		searcher:  searcher,
		generator: generator,
		limiter:   limiter,
		logger:    logger,
	}
}

// Admit validates req and charges clientKey against the rate limiter. It
// returns a *ValidationError or a *RateLimitedError when the stream must not
// be opened.
func (r *AnswerRelay) Admit(req *AnswerRequest, clientKey string) error {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return invalid(CodeMissingQuery, "Query is required")
	}
	if r.limiter == nil {
		return nil
	}
	if decision := r.limiter.Admit(clientKey); !decision.Allowed {
		metrics.RateLimitedTotal.Inc()
		r.logger.Info("answer request rate limited",
			zap.String("client", clientKey),
			zap.String("query", utils.Preview(req.Query, 50)),
			zap.Int("retry_after_seconds", decision.RetryAfterSeconds),
		)
		return &RateLimitedError{RetryAfter: decision.RetryAfterSeconds}
	}
	return nil
}

// Stream emits sources, tokens and then either the modelUsed, followups and
// done trio or a single error event. Once emit fails or ctx ends nothing more
// is written and the cause is returned.
func (r *AnswerRelay) Stream(ctx context.Context, req *AnswerRequest, emit func(StreamEvent) error) error {
	start := time.Now()
	log := r.logger.With(zap.String("query", req.Query))
	log.Debug("answer stream started", zap.String("state", string(StateAdmitted)))

	var writeErr error
	send := func(ev StreamEvent) error {
		if writeErr != nil {
			return writeErr
		}
		if err := ctx.Err(); err != nil {
			writeErr = err
			return err
		}
		if err := emit(ev); err != nil {
			writeErr = err
			return err
		}
		return nil
	}

	log.Debug("searching", zap.String("state", string(StateSearching)))
	searchStart := time.Now()
	var sources []SearchResult
	if r.searcher != nil {
		sources = r.searcher.Search(ctx, req.Query)
	}
	log.Info("search finished",
		zap.Duration("search_duration", time.Since(searchStart)),
		zap.Int("result_count", len(sources)),
	)

	if err := send(SourcesEvent(sources)); err != nil {
		return r.abort(log, start, err)
	}
	log.Debug("sources sent", zap.String("state", string(StateSourcesSent)))

	log.Debug("generating", zap.String("state", string(StateGenerating)))
	genStart := time.Now()
	result, err := r.generator.GenerateAnswer(ctx, req.Query, sources, req.AnswerStyle, req.Personalization, func(chunk string) error {
		return send(TokenEvent(chunk))
	})
	if writeErr != nil || ctx.Err() != nil {
		cause := writeErr
		if cause == nil {
			cause = ctx.Err()
		}
		return r.abort(log, start, cause)
	}
	if err != nil {
		metrics.AnswersTotal.WithLabelValues(string(StateFailed)).Inc()
		log.Error("answer generation failed",
			zap.String("state", string(StateFailed)),
			zap.Duration("generation_duration", time.Since(genStart)),
			zap.Duration("total_duration", time.Since(start)),
			zap.String("error_type", errorType(err)),
			zap.Error(err),
		)
		if sendErr := send(ErrorEvent(publicMessage(err))); sendErr != nil {
			return sendErr
		}
		return err
	}

	for _, ev := range []StreamEvent{
		ModelUsedEvent(result.ModelUsed),
		FollowupsEvent(result.Followups),
		DoneEvent(),
	} {
		if err := send(ev); err != nil {
			return r.abort(log, start, err)
		}
	}

	metrics.AnswersTotal.WithLabelValues(string(StateDone)).Inc()
	log.Info("answer stream finished",
		zap.String("state", string(StateDone)),
		zap.String("model_used", result.ModelUsed),
		zap.Duration("generation_duration", time.Since(genStart)),
		zap.Duration("total_duration", time.Since(start)),
	)
	return nil
}

func (r *AnswerRelay) abort(log *zap.Logger, start time.Time, cause error) error {
	metrics.AnswersTotal.WithLabelValues(string(StateAborted)).Inc()
	log.Info("answer stream aborted by client",
		zap.String("state", string(StateAborted)),
		zap.Duration("total_duration", time.Since(start)),
		zap.Error(cause),
	)
	return cause
}

// publicMessage is the text placed in an error event.
func publicMessage(err error) string {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Message
	}
	return msgGenerationFailed
}

func errorType(err error) string {
	var upstream *UpstreamError
	switch {
	case errors.Is(err, ErrBothModelsFailed):
		return "both_models_failed"
	case errors.Is(err, ErrMissingAPIKey):
		return "missing_api_key"
	case IsQuotaExceeded(err):
		return "quota_exceeded"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
