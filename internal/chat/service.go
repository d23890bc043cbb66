package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/metrics"
	"github.com/NikhilSetiya/textbook-assistant/pkg/quality"
	"github.com/NikhilSetiya/textbook-assistant/pkg/resilience"
	"github.com/NikhilSetiya/textbook-assistant/pkg/security"
	"github.com/NikhilSetiya/textbook-assistant/pkg/tracing"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

// Operation names used for timing and upstream metrics
const (
	OperationQuery    = "chat_query"
	OperationSession  = "chat_session"
	OperationHistory  = "chat_history"
	OperationFeedback = "chat_feedback"
)

const (
	defaultContextLength = 5
	minRating            = 1
	maxRating            = 5
)

// Upstream is the remote answering service
type Upstream interface {
	Query(ctx context.Context, query *types.ChatQuery) (*types.ChatResponse, error)
	CreateSession(ctx context.Context, req *types.SessionRequest) (*types.Session, error)
	GetHistory(ctx context.Context, query types.HistoryQuery) ([]types.HistoryEntry, error)
	SubmitFeedback(ctx context.Context, feedback *types.Feedback) (*types.FeedbackAck, error)
}

// Config holds chat service configuration
type Config struct {
	// BlockUnsafeInput rejects queries with high-severity security issues
	// instead of forwarding their sanitized form
	BlockUnsafeInput   bool
	MaxSessions        int
	MaxTurnsPerSession int
}

// Dependencies are the collaborators of the chat service. Upstream and
// Executor are required; the rest fall back to defaults.
type Dependencies struct {
	Upstream Upstream
	Executor *resilience.Executor
	Security *security.Validator
	Quality  *quality.Validator
	Fallback *resilience.FallbackResponder
	Monitor  *metrics.Monitor
	Metrics  *metrics.Metrics
	Tracer   *tracing.TracingService
	Logger   *logging.Logger
}

// Service answers chat widget requests: it screens input, calls the
// answering service through the executor, scores answers and substitutes
// degraded ones when the service fails.
type Service struct {
	upstream Upstream
	executor *resilience.Executor
	security *security.Validator
	quality  *quality.Validator
	fallback *resilience.FallbackResponder
	monitor  *metrics.Monitor
	metrics  *metrics.Metrics
	tracer   *tracing.TracingService
	sessions *SessionStore
	logger   *logging.Logger

	blockUnsafe bool
}

// NewService creates a chat service
func NewService(config Config, deps Dependencies) (*Service, error) {
	if deps.Upstream == nil {
		return nil, fmt.Errorf("chat service requires an upstream client")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("chat service requires a resilience executor")
	}

	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Security == nil {
		deps.Security = security.NewValidator(0)
	}
	if deps.Quality == nil {
		deps.Quality = quality.NewValidator(quality.DefaultRules())
	}
	if deps.Fallback == nil {
		deps.Fallback = resilience.NewFallbackResponder(deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewMetrics(&metrics.Config{Enabled: false})
	}
	if deps.Monitor == nil {
		deps.Monitor = metrics.NewMonitor(metrics.MonitorConfig{Metrics: deps.Metrics, Logger: deps.Logger})
	}
	if deps.Tracer == nil {
		tracer, err := tracing.NewTracingService(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create tracer: %w", err)
		}
		deps.Tracer = tracer
	}

	return &Service{
		upstream:    deps.Upstream,
		executor:    deps.Executor,
		security:    deps.Security,
		quality:     deps.Quality,
		fallback:    deps.Fallback,
		monitor:     deps.Monitor,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		sessions:    NewSessionStore(config.MaxSessions, config.MaxTurnsPerSession),
		logger:      deps.Logger,
		blockUnsafe: config.BlockUnsafeInput,
	}, nil
}

// Sessions exposes the in-memory session store
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// CacheKey identifies an answer by context mode, selected text and the
// sanitized question
func CacheKey(contextMode, selectedText, query string) string {
	sum := sha256.Sum256([]byte(contextMode + "|" + selectedText + "|" + query))
	return "chat:" + hex.EncodeToString(sum[:])
}

// Query answers a question. Upstream failures never surface as errors: the
// caller gets a degraded answer instead. Rejected input and a cancelled
// caller do return errors.
func (s *Service) Query(ctx context.Context, q *types.ChatQuery) (*types.ChatResponse, error) {
	start := time.Now()

	if q == nil || strings.TrimSpace(q.Query) == "" {
		return nil, errors.NewValidationError("query is required")
	}
	mode, err := normalizeContextMode(q.ContextMode)
	if err != nil {
		return nil, err
	}
	if mode == types.ContextModeSelectedText && strings.TrimSpace(q.SelectedText) == "" {
		return nil, errors.NewValidationError("selected_text is required when context_mode is 'selected_text'")
	}

	ctx, span := s.tracer.StartChatSpan(ctx, "query", q.SessionID, mode)
	defer span.End()
	if q.SessionID != "" {
		ctx = logging.WithSessionID(ctx, q.SessionID)
	}

	forward, err := s.screen(ctx, q, mode)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	opts := s.executor.Defaults()
	opts.CacheKey = CacheKey(mode, forward.SelectedText, forward.Query)

	var answer *types.ChatResponse
	err = s.monitor.Track(ctx, OperationQuery, func(ctx context.Context) error {
		var err error
		answer, err = resilience.Do(ctx, s.executor, func(ctx context.Context, attempt int) (*types.ChatResponse, error) {
			return s.upstream.Query(ctx, forward)
		}, opts)
		return err
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp := s.degrade(ctx, span, q, mode, err)
		resp.ResponseTimeMS = time.Since(start).Milliseconds()
		s.sessions.Record(q.SessionID, q.StudentID, mode, q.Query, resp.Response)
		return resp, nil
	}

	resp := s.score(ctx, answer, q)
	if resp.SessionID == "" {
		resp.SessionID = q.SessionID
	}
	resp.ResponseTimeMS = time.Since(start).Milliseconds()
	s.sessions.Record(resp.SessionID, q.StudentID, mode, q.Query, resp.Response)

	s.logger.LogChatEvent(ctx, "query_answered", resp.SessionID, mode, logrus.Fields{
		"confidence":       resp.Confidence,
		"sources":          len(resp.Sources),
		"accuracy_score":   resp.Quality.AccuracyScore,
		"response_time_ms": resp.ResponseTimeMS,
	})
	return resp, nil
}

// screen validates the question and selected text and returns the query
// to forward, carrying sanitized text only
func (s *Service) screen(ctx context.Context, q *types.ChatQuery, mode string) (*types.ChatQuery, error) {
	queryResult := s.security.Validate(q.Query, nil)
	selectedResult := s.security.Validate(q.SelectedText, nil)

	issues := make([]validation.Issue, 0, len(queryResult.Issues)+len(selectedResult.Issues))
	issues = append(issues, queryResult.Issues...)
	issues = append(issues, selectedResult.Issues...)
	for _, issue := range issues {
		s.metrics.RecordValidationIssue("security", string(issue.Kind), string(issue.Severity))
	}

	if len(issues) > 0 {
		s.logger.LogChatEvent(ctx, "unsafe_input_detected", q.SessionID, mode, logrus.Fields{
			"issues":  len(issues),
			"blocked": s.blockUnsafe,
		})
	}

	if s.blockUnsafe {
		if err := queryResult.Err(); err != nil {
			return nil, err
		}
		if err := selectedResult.Err(); err != nil {
			return nil, err
		}
	}

	return &types.ChatQuery{
		Query:        queryResult.SanitizedInput,
		ContextMode:  mode,
		SelectedText: selectedResult.SanitizedInput,
		StudentID:    q.StudentID,
		SessionID:    q.SessionID,
	}, nil
}

// score copies the answer, which may be shared through the cache, and
// attaches the quality assessment
func (s *Service) score(ctx context.Context, answer *types.ChatResponse, q *types.ChatQuery) *types.ChatResponse {
	resp := *answer
	resp.Sources = append([]types.Source{}, answer.Sources...)

	var snippets []string
	for _, src := range resp.Sources {
		if text := src.Text(); text != "" {
			snippets = append(snippets, text)
		}
	}
	if q.SelectedText != "" {
		snippets = append(snippets, q.SelectedText)
	}

	result := s.quality.ValidateResponse(quality.Response{
		Content:    resp.Response,
		Sources:    resp.Sources,
		Confidence: resp.Confidence,
	}, q.Query, snippets)

	for _, issue := range result.Issues {
		s.metrics.RecordValidationIssue("quality", string(issue.Kind), string(issue.Severity))
	}
	s.metrics.RecordAccuracyScore(result.AccuracyScore)

	if err := result.Err(); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("accuracy_score", result.AccuracyScore).
			Warn("Answer failed quality validation")
	}

	resp.Quality = &types.QualitySummary{
		AccuracyScore: result.AccuracyScore,
		Issues:        result.Issues,
		Suggestions:   result.Suggestions,
	}
	return &resp
}

func (s *Service) degrade(ctx context.Context, span oteltrace.Span, q *types.ChatQuery, mode string, err error) *types.ChatResponse {
	kind := resilience.ClassifyFallback(err)
	s.metrics.RecordFallback(string(kind))
	s.tracer.AddSpanEvent(span, "fallback_served", attribute.String("chat.fallback", string(kind)))
	s.logger.LogChatEvent(ctx, "fallback_served", q.SessionID, mode, logrus.Fields{
		"fallback":   string(kind),
		"error":      err.Error(),
		"error_type": string(errors.GetType(err)),
	})

	resp := s.fallback.GetFallbackResponse(q.Query, err)
	resp.SessionID = q.SessionID
	return resp
}

// CreateSession opens a chat session on the answering service. When the
// service is unavailable the session is opened locally.
func (s *Service) CreateSession(ctx context.Context, req *types.SessionRequest) (*types.Session, error) {
	if req == nil {
		req = &types.SessionRequest{}
	}
	mode, err := normalizeContextMode(req.ContextMode)
	if err != nil {
		return nil, err
	}
	if req.ContextLength < 0 {
		return nil, errors.NewValidationError("context_length must not be negative")
	}

	forward := *req
	forward.ContextMode = mode
	if forward.ContextLength == 0 {
		forward.ContextLength = defaultContextLength
	}

	ctx, span := s.tracer.StartChatSpan(ctx, "session", "", mode)
	defer span.End()

	var session *types.Session
	err = s.monitor.Track(ctx, OperationSession, func(ctx context.Context) error {
		var err error
		session, err = resilience.Do(ctx, s.executor, func(ctx context.Context, attempt int) (*types.Session, error) {
			return s.upstream.CreateSession(ctx, &forward)
		}, s.singleAttempt())
		return err
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		local := s.sessions.Create(req.StudentID, mode)
		s.metrics.RecordFallback("local_session")
		s.logger.LogChatEvent(ctx, "session_created_locally", local.SessionID, mode, logrus.Fields{
			"error": err.Error(),
		})
		return local, nil
	}

	s.sessions.Register(*session, req.StudentID)
	s.logger.LogChatEvent(ctx, "session_created", session.SessionID, session.ContextMode, nil)
	return session, nil
}

// GetHistory returns chat history from the answering service, or the turns
// this gateway recorded when the service is unavailable
func (s *Service) GetHistory(ctx context.Context, query types.HistoryQuery) ([]types.HistoryEntry, error) {
	if query.Limit < 0 || query.Limit > types.MaxHistoryLimit {
		return nil, errors.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", types.MaxHistoryLimit))
	}
	if query.Limit == 0 {
		query.Limit = types.DefaultHistoryLimit
	}

	ctx, span := s.tracer.StartChatSpan(ctx, "history", query.SessionID, "")
	defer span.End()

	var history []types.HistoryEntry
	err := s.monitor.Track(ctx, OperationHistory, func(ctx context.Context) error {
		var err error
		history, err = resilience.Do(ctx, s.executor, func(ctx context.Context, attempt int) ([]types.HistoryEntry, error) {
			return s.upstream.GetHistory(ctx, query)
		}, s.executor.Defaults())
		return err
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		s.metrics.RecordFallback("local_history")
		s.logger.LogChatEvent(ctx, "history_served_locally", query.SessionID, "", logrus.Fields{
			"error": err.Error(),
		})
		return s.sessions.History(query), nil
	}

	return history, nil
}

// SubmitFeedback forwards a rating of an answer. Feedback has no local
// substitute, so failures are returned.
func (s *Service) SubmitFeedback(ctx context.Context, feedback *types.Feedback) (*types.FeedbackAck, error) {
	if feedback == nil || strings.TrimSpace(feedback.InteractionID) == "" {
		return nil, errors.NewValidationError("interaction_id is required")
	}
	if err := validateRating("rating", feedback.Rating); err != nil {
		return nil, err
	}
	if err := validateRating("accuracy_rating", feedback.AccuracyRating); err != nil {
		return nil, err
	}

	sanitized := *feedback
	sanitized.FeedbackText = security.Sanitize(feedback.FeedbackText)

	ctx, span := s.tracer.StartChatSpan(ctx, "feedback", "", "")
	defer span.End()

	var ack *types.FeedbackAck
	err := s.monitor.Track(ctx, OperationFeedback, func(ctx context.Context) error {
		var err error
		ack, err = resilience.Do(ctx, s.executor, func(ctx context.Context, attempt int) (*types.FeedbackAck, error) {
			return s.upstream.SubmitFeedback(ctx, &sanitized)
		}, s.singleAttempt())
		return err
	})
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}

	return ack, nil
}

// singleAttempt is used for upstream POSTs that are not idempotent.
func (s *Service) singleAttempt() resilience.ExecuteOptions {
	opts := s.executor.Defaults()
	opts.MaxAttempts = 1
	return opts
}

func normalizeContextMode(mode string) (string, error) {
	switch mode {
	case "":
		return types.ContextModeGlobal, nil
	case types.ContextModeGlobal, types.ContextModeSelectedText:
		return mode, nil
	default:
		return "", errors.NewValidationError("context_mode must be 'global' or 'selected_text'").
			WithDetail("context_mode", mode)
	}
}

func validateRating(field string, rating *int) error {
	if rating == nil {
		return nil
	}
	if *rating < minRating || *rating > maxRating {
		return errors.NewValidationError(fmt.Sprintf("%s must be between %d and %d", field, minRating, maxRating)).
			WithDetail(field, fmt.Sprintf("%d", *rating))
	}
	return nil
}
