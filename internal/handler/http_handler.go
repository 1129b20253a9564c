package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/metrics"
	"github.com/gosight/gosight/analyzer/internal/notify"
	"github.com/gosight/gosight/analyzer/internal/store"
	"github.com/gosight/gosight/analyzer/internal/telemetry"
	"github.com/gosight/gosight/analyzer/internal/transformer"
	"github.com/gosight/gosight/analyzer/internal/validation"
)

// Ingester accepts a validated batch.
type Ingester interface {
	Process(ctx context.Context, events []store.Event) error
}

// IngestFunc adapts a function to Ingester.
type IngestFunc func(ctx context.Context, events []store.Event) error

func (f IngestFunc) Process(ctx context.Context, events []store.Event) error { return f(ctx, events) }

type Snapshotter interface {
	Snapshot(ctx context.Context) (*metrics.Snapshot, error)
}

type Analyzer interface {
	AnalyzeAll(ctx context.Context) ([]insights.Issue, error)
	Rules() []insights.Rule
	UpdateThreshold(ruleID, key string, value float64) bool
}

type Subscriber interface {
	Subscribe() *notify.Subscription
}

type Options struct {
	MaxEvents int
	MaxBodyKB int
	RateLimit rate.Limit
	Burst     int
	Heartbeat time.Duration
	Telemetry *telemetry.Metrics
}

type HTTPHandler struct {
	ingester  Ingester
	snapshots Snapshotter
	analyzer  Analyzer
	notifier  Subscriber
	limiter   *rate.Limiter
	telemetry *telemetry.Metrics
	maxEvents int
	maxBody   int64
	heartbeat time.Duration
}

func NewHTTPHandler(ing Ingester, snaps Snapshotter, an Analyzer, sub Subscriber, opts Options) *HTTPHandler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxBodyKB <= 0 {
		opts.MaxBodyKB = 512
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	return &HTTPHandler{
		ingester:  ing,
		snapshots: snaps,
		analyzer:  an,
		notifier:  sub,
		limiter:   rate.NewLimiter(opts.RateLimit, opts.Burst),
		telemetry: opts.Telemetry,
		maxEvents: opts.MaxEvents,
		maxBody:   int64(opts.MaxBodyKB) * 1024,
		heartbeat: opts.Heartbeat,
	}
}

type EventResponse struct {
	Success  bool     `json:"success"`
	Accepted int      `json:"accepted"`
	Errors   []string `json:"errors,omitempty"`
}

func (h *HTTPHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, EventResponse{Errors: []string{"Rate limit exceeded"}})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, EventResponse{Errors: []string{"Body too large"}})
			return
		}
		writeJSON(w, http.StatusBadRequest, EventResponse{Errors: []string{"Failed to read body"}})
		return
	}
	defer r.Body.Close()

	events, err := transformer.DecodeBatch(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, EventResponse{Errors: []string{err.Error()}})
		return
	}
	if err := validation.ValidateBatch(events, h.maxEvents); err != nil {
		writeJSON(w, http.StatusBadRequest, EventResponse{Errors: validationProblems(err)})
		return
	}

	if err := h.ingester.Process(r.Context(), events); err != nil {
		writeJSON(w, http.StatusInternalServerError, EventResponse{Errors: []string{"Failed to store events"}})
		return
	}

	writeJSON(w, http.StatusAccepted, EventResponse{Success: true, Accepted: len(events)})
}

// validationProblems lists the problems behind a rejected batch.
func validationProblems(err error) []string {
	var verr *validation.Error
	if errors.As(err, &verr) && len(verr.Problems) > 0 {
		return verr.Problems
	}
	return []string{err.Error()}
}

type countRow struct {
	Count int64 `json:"count"`
}

type elementRow struct {
	ElementSelector string `json:"element_selector"`
	Clicks          int64  `json:"clicks"`
}

type depthRow struct {
	AvgDepth *float64 `json:"avg_depth"`
}

type activityRow struct {
	PageURL     string `json:"page_url"`
	EventsCount int64  `json:"events_count"`
}

// MetricsResponse keeps the row-array shape dashboards already consume.
type MetricsResponse struct {
	TotalEvents        []countRow    `json:"totalEvents"`
	TotalSessions      []countRow    `json:"totalSessions"`
	TopClickedElements []elementRow  `json:"topClickedElements"`
	AverageScrollDepth []depthRow    `json:"averageScrollDepth"`
	RecentActivity     []activityRow `json:"recentActivity"`
	GeneratedAt        time.Time     `json:"generatedAt"`
}

func newMetricsResponse(s *metrics.Snapshot) MetricsResponse {
	resp := MetricsResponse{
		TotalEvents:        []countRow{{Count: s.TotalEvents}},
		TotalSessions:      []countRow{{Count: s.TotalSessions}},
		TopClickedElements: make([]elementRow, 0, len(s.TopClickedElements)),
		AverageScrollDepth: []depthRow{{AvgDepth: s.AverageScrollDepth}},
		RecentActivity:     make([]activityRow, 0, len(s.RecentActivity)),
		GeneratedAt:        s.GeneratedAt,
	}
	for _, e := range s.TopClickedElements {
		resp.TopClickedElements = append(resp.TopClickedElements, elementRow{ElementSelector: e.Selector, Clicks: e.Clicks})
	}
	for _, a := range s.RecentActivity {
		resp.RecentActivity = append(resp.RecentActivity, activityRow{PageURL: a.PageURL, EventsCount: a.EventsCount})
	}
	return resp
}

func (h *HTTPHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap, err := h.snapshots.Snapshot(r.Context())
	h.telemetry.ObserveAnalysis("snapshot", time.Since(start).Seconds(), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute metrics")
		return
	}
	writeJSON(w, http.StatusOK, newMetricsResponse(snap))
}

type IssuesResponse struct {
	Issues []insights.Issue `json:"issues"`
	Count  int              `json:"count"`
}

func (h *HTTPHandler) HandleIssues(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	issues, err := h.analyzer.AnalyzeAll(r.Context())
	h.telemetry.ObserveAnalysis("rules", time.Since(start).Seconds(), err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to analyze events")
		return
	}
	writeJSON(w, http.StatusOK, IssuesResponse{Issues: issues, Count: len(issues)})
}

func (h *HTTPHandler) HandleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": h.analyzer.Rules()})
}

type thresholdRequest struct {
	Value *float64 `json:"value"`
}

func (h *HTTPHandler) HandleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	key := chi.URLParam(r, "key")

	var req thresholdRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil || req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"updated": false, "error": "Body must be {\"value\": <number>}"})
		return
	}

	if !h.analyzer.UpdateThreshold(ruleID, key, *req.Value) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"updated": false, "error": "Unknown rule or threshold"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true})
}

type FeedbackRequest struct {
	IssueID      string `json:"issueId"`
	SuggestionID string `json:"suggestionId"`
	Action       string `json:"action"`
}

// HandleFeedback records accept/reject feedback in the log. Feedback does not
// influence later analyses.
func (h *HTTPHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 16*1024)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.IssueID == "" || req.SuggestionID == "" || (req.Action != "accept" && req.Action != "reject") {
		writeError(w, http.StatusBadRequest, "issueId, suggestionId and action (accept|reject) are required")
		return
	}

	log.Info().
		Str("issue_id", req.IssueID).
		Str("suggestion_id", req.SuggestionID).
		Str("action", req.Action).
		Msg("Suggestion feedback received")
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleStream is a server-sent event stream of notifications. The first
// message is always "connected".
func (h *HTTPHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sub := h.notifier.Subscribe()
	defer sub.Close()
	h.telemetry.SubscriberConnected()
	defer h.telemetry.SubscriberDisconnected()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, notify.Message{Type: notify.TypeConnected}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
