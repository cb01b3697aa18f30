package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mw "github.com/kiranshivaraju/bugnest/internal/api/middleware"
	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/cache"
	"github.com/kiranshivaraju/bugnest/internal/issue"
	"github.com/kiranshivaraju/bugnest/internal/pipeline"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

const maxEventBodyBytes = 256 << 10

// EventIngester commits events and runs their notification stage.
type EventIngester interface {
	Ingest(ctx context.Context, event *models.Event) (*pipeline.Ingested, error)
	Notify(ctx context.Context, in *pipeline.Ingested) (*pipeline.NotifyResult, error)
}

// JobQueue runs jobs in the background.
type JobQueue interface {
	Submit(job pipeline.Job) error
}

type ingestRequest struct {
	APIKey    string             `json:"api_key"`
	Type      string             `json:"type"`
	Device    models.Device      `json:"device"`
	User      string             `json:"user"`
	Detail    models.EventDetail `json:"detail"`
	Timestamp *time.Time         `json:"timestamp"`
}

type ingestResponse struct {
	EventID string `json:"event_id"`
	IssueID int64  `json:"issue_id"`
}

// NewIngestHandler returns an http.HandlerFunc for POST /api/v1/events.
// The event is aggregated before responding; notifications run on queue.
func NewIngestHandler(ingester EventIngester, queue JobQueue, limiter *mw.RateLimit) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxEventBodyBytes)

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
					"Event body exceeds 256KiB", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.APIKey != "" && limiter != nil {
			if !limiter.Allow(w, r, cache.IngestRateLimitKey(req.APIKey)) {
				return
			}
		}

		event := &models.Event{
			APIKey: req.APIKey,
			Type:   req.Type,
			Device: req.Device,
			User:   req.User,
			Detail: req.Detail,
		}
		if req.Timestamp != nil {
			event.Timestamp = *req.Timestamp
		}

		in, err := ingester.Ingest(r.Context(), event)
		if err != nil {
			var aggErr *issue.AggregationError
			switch {
			case errors.Is(err, validation.ErrInvalid):
				response.Invalid(w, err)
			case errors.Is(err, pipeline.ErrUnknownProject):
				response.Error(w, http.StatusUnauthorized, "UNKNOWN_PROJECT",
					"No project matches api_key", nil)
			case errors.As(err, &aggErr):
				slog.Error("event aggregation failed", "fingerprint", aggErr.Fingerprint, "error", aggErr.Err)
				response.Error(w, http.StatusServiceUnavailable, "AGGREGATION_FAILED",
					"The event could not be recorded, retry later", nil)
			default:
				slog.Error("event ingest failed", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		err = queue.Submit(func(ctx context.Context) {
			if _, err := ingester.Notify(ctx, in); err != nil {
				slog.Error("notification stage failed",
					"issue_id", in.Issue.ID, "event_id", in.Event.ID, "error", err)
			}
		})
		if err != nil {
			// The event is stored either way; only its notifications are lost.
			slog.Warn("notification dropped", "issue_id", in.Issue.ID, "error", err)
		}

		response.Accepted(w, ingestResponse{
			EventID: in.Event.ID.String(),
			IssueID: in.Issue.ID,
		})
	}
}
