// Package api defines the JSON wire types of the attrstore HTTP surface.
// Both the server and the client use them.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// Route paths.
const (
	PathPing            = "/v1/ping"
	PathAttributeTypes  = "/v1/attribute-types"
	PathGetEntity       = "/v1/entities:get"
	PathQueryEntities   = "/v1/entities:query"
	PathUpdateEntity    = "/v1/entities:update"
	PathDeleteEntity    = "/v1/entities:delete"
	PathWatchEntities   = "/v1/entities:watch"
	PathWatchEntityRows = "/v1/entity-rows:watch"
	PathMetrics         = "/metrics"
)

// Headers and content types.
const (
	HeaderSubscriptionID    = "X-Attrstore-Subscription"
	HeaderSubscriptionStart = "X-Attrstore-Start-Seq"
	ContentTypeJSON         = "application/json"
	ContentTypeNDJSON       = "application/x-ndjson"
)

// Locator wraps an ir.EntityLocator so it can be embedded in request
// structs.
type Locator struct {
	ir.EntityLocator
}

// MarshalJSON implements json.Marshaler.
func (l Locator) MarshalJSON() ([]byte, error) {
	if l.EntityLocator == nil {
		return []byte("null"), nil
	}
	return ir.MarshalLocator(l.EntityLocator)
}

// UnmarshalJSON implements json.Unmarshaler. null leaves the locator unset.
func (l *Locator) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		l.EntityLocator = nil
		return nil
	}
	loc, err := ir.UnmarshalLocator(data)
	if err != nil {
		return err
	}
	l.EntityLocator = loc
	return nil
}

// PingResponse reports liveness and the current head seq.
type PingResponse struct {
	Version string `json:"version"`
	Head    ir.Seq `json:"head"`
}

// CreateAttributeTypeRequest declares a new attribute type.
type CreateAttributeTypeRequest struct {
	Symbol    ir.Symbol    `json:"symbol"`
	ValueType ir.ValueKind `json:"valueType"`
}

// EntityResponse carries one entity state.
type EntityResponse struct {
	Entity *ir.Entity `json:"entity"`
}

// GetEntityRequest reads one entity.
type GetEntityRequest struct {
	Locator Locator `json:"locator"`
}

// QueryRequest evaluates a query. With AttributeTypes set the response
// carries rows instead of entities.
type QueryRequest struct {
	Query          queryir.Wire `json:"query"`
	AttributeTypes []ir.Symbol  `json:"attributeTypes,omitempty"`
}

// QueryResponse is the entity set a query matched as of Seq.
type QueryResponse struct {
	Seq      ir.Seq       `json:"seq"`
	Entities []*ir.Entity `json:"entities"`
}

// QueryRowsResponse answers a query with a projection: IDs[i] owns Rows[i].
type QueryRowsResponse struct {
	Seq  ir.Seq         `json:"seq"`
	IDs  []ir.EntityID  `json:"ids"`
	Rows []ir.EntityRow `json:"rows"`
}

// UpdateEntityRequest applies attribute updates to one entity.
type UpdateEntityRequest struct {
	Locator    Locator                `json:"locator"`
	Attributes []ir.AttributeToUpdate `json:"attributes"`
}

// DeleteEntityRequest removes one entity.
type DeleteEntityRequest struct {
	Locator Locator `json:"locator"`
}

// WatchRequest opens an entity watch.
type WatchRequest struct {
	Query             queryir.Wire `json:"query"`
	SendInitialEvents bool         `json:"sendInitialEvents"`
}

// WatchRowsRequest opens a row watch.
type WatchRowsRequest struct {
	Query             queryir.Wire `json:"query"`
	AttributeTypes    []ir.Symbol  `json:"attributeTypes"`
	SendInitialEvents bool         `json:"sendInitialEvents"`
}

// Frame is one line of a watch stream: an event, or the error that ended
// the stream.
type Frame[E any] struct {
	Event *E         `json:"event,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the JSON form of an engine error.
type ErrorBody struct {
	Code    engine.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Symbol  ir.Symbol        `json:"symbol,omitempty"`
	Locator string           `json:"locator,omitempty"`
}

// NewErrorBody renders err. Errors that are not engine errors become
// INTERNAL with their message.
func NewErrorBody(err error) *ErrorBody {
	var e *engine.Error
	if !errors.As(err, &e) {
		return &ErrorBody{Code: engine.CodeInternal, Message: err.Error()}
	}
	body := &ErrorBody{Code: e.Code, Message: e.Message, Symbol: e.Symbol}
	if e.Locator != nil {
		body.Locator = e.Locator.String()
	}
	return body
}

// Err converts the body back into an engine error.
func (b *ErrorBody) Err() *engine.Error {
	e := &engine.Error{Code: b.Code, Message: b.Message, Symbol: b.Symbol}
	if b.Locator != "" {
		if loc, err := ir.ParseLocator(b.Locator); err == nil {
			e.Locator = loc
		}
	}
	return e
}

// DecodeErrorBody parses a JSON error body.
func DecodeErrorBody(data []byte) (*ErrorBody, error) {
	var b ErrorBody
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Code == "" {
		return nil, errors.New("error body without code")
	}
	return &b, nil
}

var statusByCode = map[engine.ErrorCode]int{
	engine.CodeNotFound:           http.StatusNotFound,
	engine.CodeAlreadyExists:      http.StatusConflict,
	engine.CodeInvalidArgument:    http.StatusBadRequest,
	engine.CodeFailedPrecondition: http.StatusPreconditionFailed,
	engine.CodeResourceExhausted:  http.StatusTooManyRequests,
	engine.CodeUnavailable:        http.StatusServiceUnavailable,
	engine.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status of an error code.
func StatusFor(code engine.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// CodeForStatus maps an HTTP status without a JSON body back to a code.
func CodeForStatus(status int) engine.ErrorCode {
	for code, s := range statusByCode {
		if s == status {
			return code
		}
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusUnsupportedMediaType ||
		status == http.StatusRequestEntityTooLarge {
		return engine.CodeInvalidArgument
	}
	return engine.CodeInternal
}
