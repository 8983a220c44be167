package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
)

func (s *Server) handleWatchEntities(w http.ResponseWriter, r *http.Request) {
	var req api.WatchRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.store.WatchEntities(r.Context(), engine.WatchRequest{
		Root:              req.Query.Node,
		SendInitialEvents: req.SendInitialEvents,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	stream(w, s.logger, sub)
}

func (s *Server) handleWatchEntityRows(w http.ResponseWriter, r *http.Request) {
	var req api.WatchRowsRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := s.store.WatchEntityRows(r.Context(), engine.WatchRowsRequest{
		Root:              req.Query.Node,
		AttributeTypes:    req.AttributeTypes,
		SendInitialEvents: req.SendInitialEvents,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	stream(w, s.logger, sub)
}

// stream copies subscription events to w as NDJSON frames until the
// subscription ends or a write fails. A subscription that ends with an
// error other than the request going away gets a final error frame.
func stream[E any](w http.ResponseWriter, logger *slog.Logger, sub *engine.Subscription[E]) {
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", api.ContentTypeNDJSON)
	h.Set("Cache-Control", "no-cache")
	h.Set(api.HeaderSubscriptionID, sub.ID())
	h.Set(api.HeaderSubscriptionStart, strconv.FormatInt(int64(sub.StartSeq()), 10))
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logger.Warn("watch stream cannot flush", "subscription", sub.ID(), "error", err)
	}

	enc := json.NewEncoder(w)
	for ev := range sub.Events() {
		if err := enc.Encode(api.Frame[E]{Event: &ev}); err != nil {
			logger.Debug("watch client gone", "subscription", sub.ID(), "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("watch client gone", "subscription", sub.ID(), "error", err)
			return
		}
	}

	err := sub.Err()
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	if err := enc.Encode(api.Frame[E]{Error: api.NewErrorBody(err)}); err == nil {
		_ = rc.Flush()
	}
}
