package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/openai"
	"kno-canvas/internal/repository"
)

var errBadRequest = errors.New("malformed request body")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, canvas.ErrDocumentNotFound),
		errors.Is(err, canvas.ErrNodeNotFound),
		errors.Is(err, canvas.ErrItemNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrInteractionActive),
		errors.Is(err, canvas.ErrNoActiveDocument),
		errors.Is(err, canvas.ErrNotInTrash),
		errors.Is(err, canvas.ErrDuplicateNode),
		errors.Is(err, canvas.ErrDuplicateEdge):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, canvas.ErrUnknownCommand),
		errors.Is(err, canvas.ErrInvalidCommand),
		errors.Is(err, canvas.ErrUnknownOperator),
		errors.Is(err, canvas.ErrDanglingEdge),
		errors.Is(err, canvas.ErrInvalidNode),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, openai.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}
