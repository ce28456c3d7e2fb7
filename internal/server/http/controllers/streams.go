package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rzbill/eventpump/internal/eventlog"
	"github.com/rzbill/eventpump/internal/runtime"
	"github.com/rzbill/eventpump/pkg/log"
)

const maxFilterLen = 2048

// StreamsController publishes to and reads from the event log.
type StreamsController struct {
	rt     *runtime.Runtime
	logger log.Logger
}

func NewStreamsController(rt *runtime.Runtime, logger log.Logger) *StreamsController {
	return &StreamsController{rt: rt, logger: logger}
}

// RegisterRoutes sets up:
//   - POST /v1/streams/publish
//   - GET  /v1/streams/messages (global log or one stream)
//   - GET  /v1/streams/tail (SSE)
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/streams/publish", c.handlePublish)
	mux.HandleFunc("GET /v1/streams/messages", c.handleListMessages)
	mux.HandleFunc("GET /v1/streams/tail", c.handleTailSSE)
}

func (c *StreamsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req publishReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "At least one event is required")
		return
	}
	expected := int64(eventlog.AnyVersion)
	if req.ExpectedVersion != nil {
		expected = *req.ExpectedVersion
	}
	evs := make([]eventlog.EventData, 0, len(req.Events))
	for _, e := range req.Events {
		if e.Type == "" {
			writeError(w, http.StatusBadRequest, "Event type is required")
			return
		}
		evs = append(evs, eventlog.EventData{EventID: e.ID, Type: e.Type, Payload: e.Payload, Metadata: e.Metadata})
	}

	stored, err := c.rt.Publish(r.Context(), req.Stream, expected, evs)
	var vm *eventlog.VersionMismatchError
	switch {
	case errors.As(err, &vm):
		writeError(w, http.StatusConflict, vm.Error())
		return
	case errors.Is(err, eventlog.ErrInvalidStream):
		writeError(w, http.StatusBadRequest, "Invalid stream name")
		return
	case err != nil:
		c.logger.Error("publish failed", log.Str("stream", req.Stream), log.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to publish events")
		return
	}

	resp := publishResp{Positions: make([]string, len(stored))}
	for i, ev := range stored {
		resp.Positions[i] = ev.Position.String()
	}
	resp.StreamVersion = stored[len(stored)-1].StreamVersion
	w.Header().Set("X-Publish-Latency-Ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	writeStatusJSON(w, http.StatusAccepted, resp)
}

// handleListMessages reads the global log after ?after=<position>, or one
// stream from ?from=<version> when ?stream= is set.
func (c *StreamsController) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))
	if limit == 0 {
		limit = 100
	}

	var (
		items []eventlog.StoredEvent
		err   error
	)
	if stream := q.Get("stream"); stream != "" {
		from, perr := strconv.ParseUint(q.Get("from"), 10, 64)
		if perr != nil && q.Get("from") != "" {
			writeError(w, http.StatusBadRequest, "Invalid from version")
			return
		}
		items, err = c.rt.Log().ReadStream(stream, from, limit)
	} else {
		after, perr := eventlog.ParseToken(q.Get("after"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid after position")
			return
		}
		items, err = c.rt.Log().Read(eventlog.ReadOptions{After: after, Limit: limit})
	}
	if errors.Is(err, eventlog.ErrInvalidStream) {
		writeError(w, http.StatusBadRequest, "Invalid stream name")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}

	out := make([]eventJSON, 0, len(items))
	for _, ev := range items {
		out = append(out, toEventJSON(ev))
	}
	writeJSON(w, map[string]any{"events": out})
}

var errTailLimit = errors.New("tail limit reached")

// handleTailSSE streams events after ?after= matching ?filter= (stream
// regex) and ?expr= (CEL) until the client goes away or ?limit= events
// were sent.
func (c *StreamsController) handleTailSSE(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, expr := q.Get("filter"), q.Get("expr")
	if len(filter) > maxFilterLen || len(expr) > maxFilterLen {
		writeError(w, http.StatusBadRequest, "Filter too long")
		return
	}
	if expr != "" {
		if err := eventlog.ValidateExpr(expr); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expr: "+err.Error())
			return
		}
	}
	after, err := eventlog.ParseToken(q.Get("after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid after position")
		return
	}
	limit := parseLimit(q.Get("limit"))

	sse := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)
	sse.Flush()

	sent := 0
	err = c.rt.Log().Tail(r.Context(), eventlog.TailOptions{Filter: filter, Expr: expr, After: after}, func(ev eventlog.StoredEvent) error {
		if err := sse.Send(toEventJSON(ev)); err != nil {
			return err
		}
		sent++
		if limit > 0 && sent >= limit {
			return errTailLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errTailLimit) && !errors.Is(err, context.Canceled) && !errors.Is(err, eventlog.ErrClosed) {
		c.logger.Warn("tail ended", log.Err(err))
	}
}
