package types

import (
	"time"

	"github.com/NikhilSetiya/textbook-assistant/pkg/validation"
)

// Context modes accepted by the answering service
const (
	ContextModeGlobal       = "global"
	ContextModeSelectedText = "selected_text"
)

// Source is a textbook passage the answer was grounded on
type Source struct {
	Title          string  `json:"title,omitempty"`
	URL            string  `json:"url,omitempty"`
	Snippet        string  `json:"snippet,omitempty"`
	ContentSnippet string  `json:"content_snippet,omitempty"`
	Source         string  `json:"source,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

// Text returns the passage text, whichever field the producer filled
func (s Source) Text() string {
	if s.ContentSnippet != "" {
		return s.ContentSnippet
	}
	return s.Snippet
}

// ChatQuery is a question posted by the chat widget
type ChatQuery struct {
	Query        string `json:"query" binding:"required"`
	ContextMode  string `json:"context_mode"`
	SelectedText string `json:"selected_text,omitempty"`
	StudentID    string `json:"student_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// ChatResponse is an answer from the answering service, or a degraded
// stand-in produced locally when the service is unreachable
type ChatResponse struct {
	Response       string   `json:"response"`
	Sources        []Source `json:"sources"`
	Confidence     float64  `json:"confidence"`
	SessionID      string   `json:"session_id,omitempty"`
	ResponseTimeMS int64    `json:"response_time_ms,omitempty"`
	Degraded       bool     `json:"degraded,omitempty"`

	Quality *QualitySummary `json:"quality,omitempty"`
}

// QualitySummary is the gateway's assessment of a delivered answer
type QualitySummary struct {
	AccuracyScore int                `json:"accuracy_score"`
	Issues        []validation.Issue `json:"issues,omitempty"`
	Suggestions   []string           `json:"suggestions,omitempty"`
}

// SessionRequest opens a chat session
type SessionRequest struct {
	StudentID     string `json:"student_id,omitempty"`
	ContextMode   string `json:"context_mode,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
}

// Session describes an opened chat session
type Session struct {
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	ContextMode string    `json:"context_mode"`
	// Local is set when the answering service was unreachable and the
	// session only exists on this gateway
	Local bool `json:"local,omitempty"`
}

// HistoryQuery selects chat history entries
type HistoryQuery struct {
	StudentID string `form:"student_id" json:"student_id,omitempty"`
	SessionID string `form:"session_id" json:"session_id,omitempty"`
	Limit     int    `form:"limit" json:"limit,omitempty"`
}

// HistoryEntry is one question/answer exchange
type HistoryEntry struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Response    string    `json:"response"`
	Timestamp   time.Time `json:"timestamp"`
	ContextMode string    `json:"context_mode"`
	SessionID   string    `json:"session_id"`
}

// Feedback is a student's rating of an answer
type Feedback struct {
	InteractionID  string `json:"interaction_id" binding:"required"`
	StudentID      string `json:"student_id,omitempty"`
	Rating         *int   `json:"rating,omitempty"`
	Helpful        *bool  `json:"helpful,omitempty"`
	FeedbackText   string `json:"feedback_text,omitempty"`
	AccuracyRating *int   `json:"accuracy_rating,omitempty"`
}

// FeedbackAck acknowledges a feedback submission
type FeedbackAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// History limits
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 50
)
