package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/KaramelBytes/dataloom/internal/assistant"
	"github.com/KaramelBytes/dataloom/internal/chart"
	"github.com/KaramelBytes/dataloom/internal/formula"
	"github.com/KaramelBytes/dataloom/internal/frame"
	"github.com/KaramelBytes/dataloom/internal/importance"
	"github.com/KaramelBytes/dataloom/internal/impute"
	"github.com/KaramelBytes/dataloom/internal/storage"
	"go.uber.org/zap"
)

// errInvalidInput marks request bodies the handlers cannot act on.
var errInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps an error to the response status and a short summary.
func statusOf(err error) (int, string) {
	var (
		syntax      *formula.SyntaxError
		maxBytes    *http.MaxBytesError
		notFound    *storage.NotFoundError
		badRequest  *storage.BadRequestError
		serverErr   *storage.ServerError
		unreachable *storage.UnreachableError
		upstream    *assistant.UpstreamError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "dataset not found"
	case errors.As(err, &badRequest), errors.As(err, &serverErr), errors.As(err, &unreachable):
		return http.StatusBadGateway, "storage service error"
	case errors.As(err, &upstream):
		return http.StatusBadGateway, "assistant error"
	case errors.Is(err, storage.ErrEmptyDataset):
		return http.StatusBadGateway, "storage service returned an empty dataset"
	case errors.As(err, &syntax),
		errors.Is(err, errInvalidInput),
		errors.Is(err, formula.ErrType),
		errors.Is(err, frame.ErrColumnNotFound),
		errors.Is(err, frame.ErrTypeMismatch),
		errors.Is(err, frame.ErrNoHeader),
		errors.Is(err, impute.ErrUnknownMethod),
		errors.Is(err, impute.ErrWrongKind),
		errors.Is(err, impute.ErrNoObserved),
		errors.Is(err, importance.ErrNoFeatures),
		errors.Is(err, importance.ErrTooFewRows),
		errors.Is(err, importance.ErrSingleTarget),
		errors.Is(err, chart.ErrNotNumeric),
		errors.Is(err, chart.ErrEmpty),
		errors.Is(err, assistant.ErrEmptyMessage),
		errors.Is(err, assistant.ErrEmptyImage),
		errors.Is(err, assistant.ErrMissingAPIKey):
		return http.StatusBadRequest, "invalid request"
	}
	return http.StatusInternalServerError, "internal error"
}

// report logs err and returns its response status and summary.
func (s *Server) report(r *http.Request, err error) (int, string) {
	status, summary := statusOf(err)
	fields := []zap.Field{zap.String("request_id", RequestID(r.Context())), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	return status, summary
}

// fail writes the mapped error response for err.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, summary := s.report(r, err)
	writeJSON(w, status, errorBody{Error: summary, Details: err.Error()})
}
