package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// EventStream is the read side of the durable resolution stream.
type EventStream interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler replays resolution events from the durable stream so
// consumers that missed pub/sub messages can catch up.
type EventsHandler struct {
	stream EventStream
	name   string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler reading the named stream.
func NewEventsHandler(stream EventStream, name string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{stream: stream, name: name, logger: logHandler(logger, "events")}
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type listEventsResponse struct {
	Events []streamEvent `json:"events"`
	// Next is the cursor to pass as after on the following call.
	Next string `json:"next"`
}

// ListEvents returns up to count events after the given stream ID.
// GET /api/resolutions/events?after=0&count=100
func (h *EventsHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	msgs, err := h.stream.StreamRead(r.Context(), h.name, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read event stream failed",
			slog.String("stream", h.name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := listEventsResponse{Events: make([]streamEvent, 0, len(msgs)), Next: after}
	for _, m := range msgs {
		ev := json.RawMessage(m.Payload)
		if !json.Valid(ev) {
			ev, _ = json.Marshal(string(m.Payload))
		}
		out.Events = append(out.Events, streamEvent{ID: m.ID, Event: ev})
		out.Next = m.ID
	}
	writeJSON(w, http.StatusOK, out)
}
