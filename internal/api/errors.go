package api

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"

	"ffarm/internal/queue"
	"ffarm/internal/registry"
	"ffarm/internal/scheduler"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeInvalidSpec       = "invalid_spec"
	CodeInvalidWorker     = "invalid_worker"
	CodeInvalidRequest    = "invalid_request"
	CodeUnknownJob        = "unknown_job"
	CodeUnknownWorker     = "unknown_worker"
	CodeIllegalTransition = "illegal_transition"
	CodeStaleReport       = "stale_report"
	CodeStorage           = "storage"
	CodeInternal          = "internal"
	CodeUnauthorized      = "unauthorized"
)

// ErrInvalidRequest marks a body or query the server could not parse.
var ErrInvalidRequest = errors.New("invalid request")

var codeSentinels = map[string]error{
	CodeInvalidSpec:       queue.ErrInvalidSpec,
	CodeInvalidWorker:     registry.ErrInvalidWorker,
	CodeInvalidRequest:    ErrInvalidRequest,
	CodeUnknownJob:        queue.ErrUnknownJob,
	CodeUnknownWorker:     registry.ErrUnknownWorker,
	CodeIllegalTransition: queue.ErrIllegalTransition,
	CodeStaleReport:       scheduler.ErrStaleReport,
	CodeStorage:           scheduler.ErrStorage,
	CodeInternal:          scheduler.ErrInvariant,
}

// Classify maps an error from the scheduler to its wire code and HTTP status.
func Classify(err error) (string, int) {
	switch {
	case errors.Is(err, queue.ErrInvalidSpec):
		return CodeInvalidSpec, http.StatusBadRequest
	case errors.Is(err, registry.ErrInvalidWorker):
		return CodeInvalidWorker, http.StatusBadRequest
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, queue.ErrUnknownJob):
		return CodeUnknownJob, http.StatusNotFound
	case errors.Is(err, registry.ErrUnknownWorker):
		return CodeUnknownWorker, http.StatusNotFound
	case errors.Is(err, scheduler.ErrStaleReport):
		return CodeStaleReport, http.StatusConflict
	case errors.Is(err, queue.ErrIllegalTransition):
		return CodeIllegalTransition, http.StatusConflict
	case errors.Is(err, scheduler.ErrStorage):
		return CodeStorage, http.StatusInternalServerError
	default:
		return CodeInternal, http.StatusInternalServerError
	}
}

// NewErrorResponse builds the wire body for err, carrying its hints.
func NewErrorResponse(err error) (ErrorResponse, int) {
	code, status := Classify(err)
	return ErrorResponse{
		Error:   code,
		Message: err.Error(),
		Hint:    errors.FlattenHints(err),
	}, status
}

// Error is a non-2xx response decoded by Client. It unwraps to the matching
// sentinel so callers can use errors.Is against queue, registry, and
// scheduler errors.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Hint       string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("master returned %d %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("master returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the sentinel for e.Code, or nil for unrecognized codes.
func (e *Error) Unwrap() error {
	return codeSentinels[e.Code]
}
