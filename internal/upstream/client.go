package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/NikhilSetiya/textbook-assistant/pkg/logging"
	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
)

// ServiceName identifies the answering service in errors and spans
const ServiceName = "chatbot"

// maxErrorBody caps how much of a failed response is kept in the error
const maxErrorBody = 512

// Config holds the upstream client configuration
type Config struct {
	BaseURL string
	// Timeout bounds a single HTTP exchange. The executor applies its own,
	// usually shorter, per-attempt timeout on top.
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// Client talks to the remote AI answering service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a client whose transport is traced with otelhttp
func NewClient(config Config) *Client {
	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: otelhttp.NewTransport(transport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return fmt.Sprintf("%s %s %s", ServiceName, r.Method, r.URL.Path)
				}),
			),
		},
		logger: config.Logger,
	}
}

// Query asks the answering service a question
func (c *Client) Query(ctx context.Context, query *types.ChatQuery) (*types.ChatResponse, error) {
	var resp types.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chatbot/query", query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSession opens a conversation on the answering service
func (c *Client) CreateSession(ctx context.Context, req *types.SessionRequest) (*types.Session, error) {
	var session types.Session
	if err := c.do(ctx, http.MethodPost, "/chatbot/session", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetHistory returns past interactions, oldest first
func (c *Client) GetHistory(ctx context.Context, query types.HistoryQuery) ([]types.HistoryEntry, error) {
	params := url.Values{}
	limit := query.Limit
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if query.StudentID != "" {
		params.Set("student_id", query.StudentID)
	}
	if query.SessionID != "" {
		params.Set("session_id", query.SessionID)
	}

	var history []types.HistoryEntry
	if err := c.do(ctx, http.MethodGet, "/chatbot/history?"+params.Encode(), nil, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []types.HistoryEntry{}
	}
	return history, nil
}

// SubmitFeedback forwards a student's rating of an answer
func (c *Client) SubmitFeedback(ctx context.Context, feedback *types.Feedback) (*types.FeedbackAck, error) {
	var ack types.FeedbackAck
	if err := c.do(ctx, http.MethodPost, "/chatbot/feedback", feedback, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// do sends one JSON request. Transport failures and non-2xx statuses come
// back as UpstreamError so the executor retries them.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.NewInternalError("failed to marshal request body").WithCause(err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.NewInternalError("failed to create request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := logging.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewUpstreamError(ServiceName, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	c.logger.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        req.URL.Path,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Upstream call completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.NewUpstreamError(ServiceName,
			fmt.Errorf("%s %s returned status %d: %s", method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw))),
		).WithDetail("status_code", strconv.Itoa(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewUpstreamError(ServiceName, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
