package httpserver

import (
	"errors"
	"net/http"

	"github.com/ownkit/docstore/internal/domain"
)

// errorResponse is the JSON body for failed requests.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// writeDomainError maps core errors onto HTTP status codes. Duplicates map
// to 409 so that clients can distinguish uniqueness conflicts from bad input.
func writeDomainError(w http.ResponseWriter, err error) {
	var dup *domain.DuplicateError
	if errors.As(err, &dup) {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: dup.Error(),
			Code:  dup.Code,
			Field: dup.Field,
		})
		return
	}

	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound.Error()})
		return
	}

	var invalid *domain.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: invalid.Error(),
			Field: invalid.Field,
		})
		return
	}

	var badIdent *domain.InvalidIdentifierError
	if errors.As(err, &badIdent) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: badIdent.Error()})
		return
	}

	var badCol *domain.ColumnNotAllowedError
	if errors.As(err, &badCol) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: badCol.Error()})
		return
	}

	writeError(w, http.StatusInternalServerError, "internal server error")
}
