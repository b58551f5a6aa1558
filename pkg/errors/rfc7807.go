// Package errors renders HTTP error responses as RFC 7807 Problem Details.
package errors

import (
	"encoding/json"
	"net/http"
)

// Problem type URIs
const (
	TypeValidationError  = "https://pincex.io/problems/validation-error"
	TypeNotFound         = "https://pincex.io/problems/not-found"
	TypeDuplicateMessage = "https://pincex.io/problems/duplicate-message"
	TypeUnavailable      = "https://pincex.io/problems/service-unavailable"
	TypeInternalError    = "https://pincex.io/problems/internal-error"
	TypeInvalidSymbol    = "https://pincex.io/problems/invalid-symbol"
	TypeRateLimited      = "https://pincex.io/problems/rate-limited"
)

// ValidationError represents a validation error for RFC 7807
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
	Extra    map[string]any    `json:"-"`
}

// Error implements the error interface
func (p *ProblemDetails) Error() string {
	return p.Detail
}

// WithTraceID adds a trace ID to the problem details
func (p *ProblemDetails) WithTraceID(traceID string) *ProblemDetails {
	p.TraceID = traceID
	return p
}

// WithValidationErrors adds validation errors to the problem details
func (p *ProblemDetails) WithValidationErrors(errors []ValidationError) *ProblemDetails {
	p.Errors = errors
	return p
}

// WithExtra adds extra fields to the problem details (they will be serialized at the top level)
func (p *ProblemDetails) WithExtra(key string, value any) *ProblemDetails {
	if p.Extra == nil {
		p.Extra = make(map[string]any)
	}
	p.Extra[key] = value
	return p
}

// MarshalJSON implements custom JSON marshaling to include extra fields at the top level
func (p *ProblemDetails) MarshalJSON() ([]byte, error) {
	result := make(map[string]any, 7+len(p.Extra))
	for k, v := range p.Extra {
		result[k] = v
	}
	result["type"] = p.Type
	result["title"] = p.Title
	result["status"] = p.Status
	if p.Detail != "" {
		result["detail"] = p.Detail
	}
	if p.Instance != "" {
		result["instance"] = p.Instance
	}
	if p.TraceID != "" {
		result["trace_id"] = p.TraceID
	}
	if len(p.Errors) > 0 {
		result["errors"] = p.Errors
	}
	return json.Marshal(result)
}

// NewProblemDetails creates a generic problem details with all fields
func NewProblemDetails(problemType, title string, status int, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:     problemType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

// NewValidationError creates a validation error problem
func NewValidationError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeValidationError, "Validation Error", http.StatusBadRequest, detail, instance)
}

// NewNotFoundError creates a not found error problem
func NewNotFoundError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeNotFound, "Not Found", http.StatusNotFound, detail, instance)
}

// NewInvalidSymbolError creates an invalid symbol error
func NewInvalidSymbolError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInvalidSymbol, "Invalid Symbol", http.StatusNotFound, detail, instance)
}

// NewDuplicateMessageError reports a message id that was already processed.
func NewDuplicateMessageError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeDuplicateMessage, "Duplicate Message", http.StatusConflict, detail, instance)
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeUnavailable, "Service Unavailable", http.StatusServiceUnavailable, detail, instance)
}

// NewRateLimitError reports a request refused by rate limiting.
func NewRateLimitError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeRateLimited, "Too Many Requests", http.StatusTooManyRequests, detail, instance)
}

// NewInternalError creates an internal server error problem
func NewInternalError(detail, instance string) *ProblemDetails {
	return NewProblemDetails(TypeInternalError, "Internal Server Error", http.StatusInternalServerError, detail, instance)
}
