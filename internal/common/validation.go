package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldError represents a single validation failure
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// Validator provides validation utilities
type Validator struct {
	errors []FieldError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	var messages []string
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Err returns a taxonomy ValidationError combining all failures, or nil.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return ValidationError(v.ErrorMessage())
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *FieldError

// Required - Common validation rules
func Required(fieldName string, value interface{}) *FieldError {
	if value == nil {
		return &FieldError{Field: fieldName, Value: value, Message: "is required"}
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	case int64:
		if v == 0 {
			return &FieldError{Field: fieldName, Value: value, Message: "is required"}
		}
	}
	return nil
}

// MaxRunes bounds a string field by character count.
func MaxRunes(max int) ValidationRule {
	return func(fieldName string, value interface{}) *FieldError {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		if utf8.RuneCountInString(str) > max {
			return &FieldError{
				Field:   fieldName,
				Value:   fmt.Sprintf("%d chars", utf8.RuneCountInString(str)),
				Message: fmt.Sprintf("must be at most %d characters", max),
			}
		}
		return nil
	}
}

// Positive requires an integer field to be greater than zero.
func Positive(fieldName string, value interface{}) *FieldError {
	switch v := value.(type) {
	case int:
		if v <= 0 {
			return &FieldError{Field: fieldName, Value: v, Message: "must be greater than zero"}
		}
	case int64:
		if v <= 0 {
			return &FieldError{Field: fieldName, Value: v, Message: "must be greater than zero"}
		}
	}
	return nil
}
