package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ownkit/docstore/internal/crud"
	"github.com/ownkit/docstore/internal/domain"
)

// reservedListParams are query parameters interpreted by the list handler
// itself; everything else becomes an equality filter on the document.
var reservedListParams = map[string]bool{
	"page":  true,
	"limit": true,
}

// decodePayload reads the request body into a record, rejecting bodies that
// are not JSON objects.
func decodePayload(r *http.Request) (domain.Record, error) {
	var payload domain.Record
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, domain.NewValidationError("body", "invalid JSON body")
	}
	return payload, nil
}

// parsePageRequest reads page and limit query parameters. Non-numeric values
// fall back to defaults rather than erroring.
func parsePageRequest(r *http.Request) crud.PageRequest {
	req := crud.PageRequest{}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		req.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		req.Limit = v
	}
	return req
}

// queryFilters turns non-reserved query parameters into an equality filter
// map. Column whitelisting happens inside the service.
func queryFilters(r *http.Request) map[string]interface{} {
	filters := make(map[string]interface{})
	for key, values := range r.URL.Query() {
		if reservedListParams[key] || len(values) == 0 {
			continue
		}
		filters[key] = values[0]
	}
	return filters
}

// createDocument handles POST /api/v1/{resource}.
func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	payload, err := decodePayload(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rec, err := svc.Create(r.Context(), owner, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// bulkCreateDocuments handles POST /api/v1/{resource}/bulk.
func (s *Server) bulkCreateDocuments(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	var payloads []domain.Record
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		writeDomainError(w, domain.NewValidationError("body", "invalid JSON array body"))
		return
	}

	recs, err := svc.BulkCreate(r.Context(), owner, payloads)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"data": recs})
}

// getDocument handles GET /api/v1/{resource}/{id}.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := svc.GetByID(r.Context(), owner, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// listDocuments handles GET /api/v1/{resource} with pagination and
// equality filters from query parameters.
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	res, err := svc.GetAll(r.Context(), owner, queryFilters(r), parsePageRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// searchDocuments handles GET /api/v1/{resource}/search. Each query
// parameter is one search term; a value prefixed with "~" compares
// case-insensitively.
func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	var terms []crud.SearchTerm
	for key, values := range r.URL.Query() {
		if len(values) == 0 {
			continue
		}
		value := values[0]
		ignoreCase := strings.HasPrefix(value, "~")
		terms = append(terms, crud.SearchTerm{
			Field:      key,
			Value:      strings.TrimPrefix(value, "~"),
			IgnoreCase: ignoreCase,
		})
	}

	recs, err := svc.Search(r.Context(), owner, terms)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": recs})
}

// countDocuments handles GET /api/v1/{resource}/count.
func (s *Server) countDocuments(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	total, err := svc.Count(r.Context(), owner, queryFilters(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": total})
}

// updateDocument handles PUT /api/v1/{resource}/{id}.
func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	patch, err := decodePayload(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rec, err := svc.Update(r.Context(), owner, id, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// upsertDocument handles PUT /api/v1/{resource}/upsert. Query parameters
// address the record; the body is the payload to apply.
func (s *Server) upsertDocument(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())

	payload, err := decodePayload(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rec, err := svc.Upsert(r.Context(), owner, queryFilters(r), payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// deleteDocument handles DELETE /api/v1/{resource}/{id}.
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	svc := serviceFromContext(r.Context())
	owner := ownerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := svc.DeleteByID(r.Context(), owner, id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
