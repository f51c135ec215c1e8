package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSchool      = errors.New("invalid_school")
	ErrConceptNotFound    = errors.New("charge_concept_not_found")
	ErrConceptCodeTaken   = errors.New("charge_concept_code_taken")
	ErrPlanNotFound       = errors.New("plan_not_found")
	ErrPlanItemNotFound   = errors.New("plan_item_not_found")
	ErrAssignmentNotFound = errors.New("assignment_not_found")
	ErrAssignmentExists   = errors.New("assignment_exists")
	ErrInvalidStatus      = errors.New("invalid_assignment_status")
	ErrPlanInactive       = errors.New("plan_inactive")
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors is returned when a catalog request fails validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, item := range v {
		parts = append(parts, fmt.Sprintf("%s: %s", item.Field, item.Code))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (v *ValidationErrors) Add(field, code, message string) {
	*v = append(*v, ValidationError{Field: field, Code: code, Message: message})
}

// Err returns nil when nothing was collected.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
