package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/attrstore/internal/api"
	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if s.store.Closed() {
		writeError(w, engine.ErrClosed)
		return
	}
	writeJSON(w, http.StatusOK, api.PingResponse{Version: Version, Head: s.store.Head()})
}

func (s *Server) handleCreateAttributeType(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAttributeTypeRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.store.CreateAttributeType(r.Context(), ir.AttributeType{Symbol: req.Symbol, ValueKind: req.ValueType})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EntityResponse{Entity: e})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	var req api.GetEntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.store.GetEntity(r.Context(), req.Locator.EntityLocator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EntityResponse{Entity: e})
}

func (s *Server) handleQueryEntities(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if !decode(w, r, &req) {
		return
	}

	if req.AttributeTypes != nil {
		rows, err := s.store.QueryEntityRows(r.Context(), engine.EntityQuery{
			Root:           req.Query.Node,
			AttributeTypes: req.AttributeTypes,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, api.QueryRowsResponse{Seq: rows.Seq, IDs: rows.IDs, Rows: rows.Rows})
		return
	}

	set, err := s.store.QueryEntities(r.Context(), req.Query.Node)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.QueryResponse{Seq: set.Seq, Entities: set.Entities})
}

func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateEntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.store.UpdateEntity(r.Context(), engine.UpdateRequest{
		Locator:    req.Locator.EntityLocator,
		Attributes: req.Attributes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EntityResponse{Entity: e})
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteEntityRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := s.store.DeleteEntity(r.Context(), req.Locator.EntityLocator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.EntityResponse{Entity: e})
}

// decode reads a JSON request body into v. On failure it writes an
// INVALID_ARGUMENT response and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.Header().Set("Content-Type", api.ContentTypeJSON)
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			writeJSONBody(w, api.ErrorBody{Code: engine.CodeInvalidArgument, Message: "request body too large"})
			return false
		}
		writeError(w, &engine.Error{
			Code:    engine.CodeInvalidArgument,
			Message: fmt.Sprintf("malformed request: %v", err),
			Err:     err,
		})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	body := api.NewErrorBody(err)
	writeJSON(w, api.StatusFor(body.Code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", api.ContentTypeJSON)
	w.WriteHeader(status)
	writeJSONBody(w, v)
}

func writeJSONBody(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
