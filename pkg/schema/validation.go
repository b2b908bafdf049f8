package schema

import "fmt"

// ValidationSeverity separates blocking problems from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one problem in a graph document. Path uses the
// document's own shape, e.g. "edges[2].target" or "nodes[0].data.operation".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s [%s] %s", i.Path, i.Code, i.Message)
}

// ValidationResult collects the issues found by the structural and semantic
// passes over a graph. Warnings never block execution.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends the issues of other. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError folds the blocking issues into a VALIDATION_ERROR, or returns nil
// when the graph is acceptable. A lone issue keeps its own message so callers
// see e.g. "graph contains a cycle" directly.
func (r *ValidationResult) ToError() error {
	switch len(r.Errors) {
	case 0:
		return nil
	case 1:
		return r.wrap(r.Errors[0].Message)
	default:
		return r.wrap(fmt.Sprintf("graph rejected with %d errors, first: %s", len(r.Errors), r.Errors[0]))
	}
}

func (r *ValidationResult) wrap(msg string) *Error {
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
