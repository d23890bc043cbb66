package resilience

import (
	"fmt"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
)

// FallbackKind names the canned answer chosen for a failure
type FallbackKind string

const (
	FallbackTimeout     FallbackKind = "timeout"
	FallbackCircuitOpen FallbackKind = "circuit_open"
	FallbackStatic      FallbackKind = "static_content"
)

const (
	timeoutFallbackMessage       = "I'm currently experiencing technical difficulties. Please try your request again in a moment."
	circuitFallbackMessage       = "I'm having trouble processing your request right now. The system may be temporarily unavailable. Please try again later."
	staticContentFallbackMessage = "There was an issue with the AI service. I recommend checking the textbook content directly for the information you need."
)

// FallbackResponder turns a classified failure into a degraded answer the
// chat widget can show instead of a raw error.
type FallbackResponder struct {
	logger *logging.Logger
}

// NewFallbackResponder creates a responder; a nil logger uses the process logger
func NewFallbackResponder(logger *logging.Logger) *FallbackResponder {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &FallbackResponder{logger: logger}
}

// ClassifyFallback picks the canned answer for err
func ClassifyFallback(err error) FallbackKind {
	switch {
	case errors.IsType(err, errors.ErrorTypeTimeout):
		return FallbackTimeout
	case errors.IsType(err, errors.ErrorTypeCircuitOpen):
		return FallbackCircuitOpen
	default:
		return FallbackStatic
	}
}

// GetFallbackResponse returns a fresh degraded answer for query. The error
// text is appended to the message.
func (f *FallbackResponder) GetFallbackResponse(query string, err error) *types.ChatResponse {
	kind := ClassifyFallback(err)

	resp := &types.ChatResponse{
		Sources:  []types.Source{},
		Degraded: true,
	}

	switch kind {
	case FallbackTimeout:
		resp.Response = timeoutFallbackMessage
		resp.Confidence = 0.1
	case FallbackCircuitOpen:
		resp.Response = circuitFallbackMessage
		resp.Confidence = 0.1
	default:
		resp.Response = staticContentFallbackMessage
		resp.Confidence = 0.3
		resp.Sources = append(resp.Sources, types.Source{
			Title:   "Textbook Index",
			URL:     "/textbook/index",
			Snippet: "Browse all textbook chapters and content",
		})
	}

	if err != nil {
		resp.Response = fmt.Sprintf("%s (Error: %s)", resp.Response, errorMessage(err))
	}

	f.logger.Debug("Serving fallback response",
		"fallback", string(kind),
		"query_length", len(query),
	)
	return resp
}

// errorMessage prefers the human message of taxonomy errors over their
// coded Error() form
func errorMessage(err error) string {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
