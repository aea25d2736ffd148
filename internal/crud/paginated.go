package crud

import (
	"context"

	"github.com/ownkit/docstore/internal/domain"
)

// PageMeta enriches a result page with derived navigation metadata.
type PageMeta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// PaginatedResult is one page of records plus full navigation metadata.
type PaginatedResult struct {
	Data []domain.Record `json:"data"`
	Meta PageMeta        `json:"meta"`
}

// PaginatedService layers pagination-metadata enrichment atop a Service.
// It embeds a ValidatedService so payload rules, when configured, apply to
// every write reaching the service through this surface.
type PaginatedService struct {
	*ValidatedService
}

// NewPaginated wraps a service with pagination metadata and no payload
// validation rules.
func NewPaginated(service *Service) *PaginatedService {
	return NewValidatedPaginated(service, nil)
}

// NewValidatedPaginated wraps a service with pagination metadata plus
// per-field payload validation rules.
func NewValidatedPaginated(service *Service, rules Rules) *PaginatedService {
	return &PaginatedService{ValidatedService: NewValidated(service, rules)}
}

// GetAll returns one page plus total pages and has-next/has-previous flags.
func (p *PaginatedService) GetAll(ctx context.Context, owner string, filters map[string]interface{}, req PageRequest) (*PaginatedResult, error) {
	res, err := p.Service.GetAll(ctx, owner, filters, req)
	if err != nil {
		return nil, err
	}

	totalPages := int(res.Total / int64(res.Limit))
	if res.Total%int64(res.Limit) != 0 {
		totalPages++
	}

	return &PaginatedResult{
		Data: res.Data,
		Meta: PageMeta{
			Page:       res.Page,
			Limit:      res.Limit,
			Total:      res.Total,
			TotalPages: totalPages,
			HasNext:    res.Page < totalPages,
			HasPrev:    res.Page > 1 && res.Total > 0,
		},
	}, nil
}
