package crud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ownkit/docstore/internal/domain"
)

// Rules maps field names to go-playground/validator tag expressions, e.g.
// {"title": "required,min=1,max=200", "email": "omitempty,email"}.
type Rules map[string]string

// ValidatedService layers payload-shape validation over a Service. Create
// and Update reject malformed payloads before any backend call; validation
// always runs before uniqueness, which is the cheaper-first ordering.
type ValidatedService struct {
	*Service
	rules   Rules
	checker *validator.Validate
}

// NewValidated wraps a service with field validation rules.
func NewValidated(service *Service, rules Rules) *ValidatedService {
	return &ValidatedService{
		Service: service,
		rules:   rules,
		checker: validator.New(),
	}
}

// hasRequired reports whether the tag expression demands the field.
func hasRequired(tag string) bool {
	for _, part := range strings.Split(tag, ",") {
		if part == "required" {
			return true
		}
	}
	return false
}

// validate checks payload against the rules. In partial mode (updates)
// absent fields are skipped; otherwise required fields must be present.
// Fields are checked in name order so failures are deterministic.
func (v *ValidatedService) validate(payload domain.Record, partial bool) error {
	fields := make([]string, 0, len(v.rules))
	for field := range v.rules {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		tag := v.rules[field]
		value, present := payload[field]
		if !present {
			if !partial && hasRequired(tag) {
				return domain.NewValidationError(field, "is required")
			}
			continue
		}

		if err := v.checker.Var(value, tag); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return domain.NewValidationError(field, fmt.Sprintf("failed %q validation", verrs[0].Tag()))
			}
			return domain.NewValidationError(field, err.Error())
		}
	}
	return nil
}

// Create validates the payload shape, then delegates.
func (v *ValidatedService) Create(ctx context.Context, owner string, payload domain.Record) (domain.Record, error) {
	if err := v.validate(payload, false); err != nil {
		return nil, err
	}
	return v.Service.Create(ctx, owner, payload)
}

// Update validates the fields present in the patch, then delegates.
func (v *ValidatedService) Update(ctx context.Context, owner, id string, patch domain.Record) (domain.Record, error) {
	if err := v.validate(patch, true); err != nil {
		return nil, err
	}
	return v.Service.Update(ctx, owner, id, patch)
}

// BulkCreate validates every payload before delegating, so a malformed
// record aborts the batch before any backend call.
func (v *ValidatedService) BulkCreate(ctx context.Context, owner string, payloads []domain.Record) ([]domain.Record, error) {
	for i, payload := range payloads {
		if err := v.validate(payload, false); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return v.Service.BulkCreate(ctx, owner, payloads)
}
