// Package errors provides structured error types for the twidlr dispatch layer.
//
// The package defines typed errors for the failure modes of formula-driven
// model fitting and prediction:
//
//   - SchemaError: input data cannot be coerced to tabular form, or lacks a
//     column required at prediction time
//   - FormulaError: a formula references an unknown column or has a shape
//     incompatible with the model family
//   - DependencyError: a model family has no registered fitting engine
//   - DimensionError: matrix dimensions do not match expectations
//   - NotFittedError: prediction requested on an unfitted model
//   - ValueError: an argument value is invalid
//   - ModelError: a fit operation failed, wrapping a sentinel cause
//
// All types implement the error interface and support Go 1.13+ error wrapping
// via errors.Is and errors.As. Construction helpers follow a New<Type> naming
// convention. Stack-trace capture and wrapping are delegated to
// github.com/cockroachdb/errors.
//
// Example usage:
//
//	if err := fit(); err != nil {
//	    var formulaErr *errors.FormulaError
//	    if stderrors.As(err, &formulaErr) {
//	        log.Printf("bad formula: %s", formulaErr.Message)
//	    }
//	}
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"
)

// Sentinel errors for common failure conditions. Compare with errors.Is.
var (
	// ErrEmptyData indicates that an input table or matrix has no rows or columns.
	ErrEmptyData = cockroacherrors.New("empty data")

	// ErrSingularMatrix indicates a linear solve against a non-invertible matrix.
	ErrSingularMatrix = cockroacherrors.New("singular matrix")

	// ErrNotImplemented indicates a capability a model family does not provide.
	ErrNotImplemented = cockroacherrors.New("not implemented")
)

// New returns a new error with the supplied message and a captured stack trace.
func New(msg string) error {
	return cockroacherrors.New(msg)
}

// Newf returns a new formatted error with a captured stack trace.
func Newf(format string, args ...interface{}) error {
	return cockroacherrors.Newf(format, args...)
}

// Wrap annotates err with a message, preserving the original error chain.
func Wrap(err error, msg string) error {
	return cockroacherrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message, preserving the error chain.
func Wrapf(err error, format string, args ...interface{}) error {
	return cockroacherrors.Wrapf(err, format, args...)
}

// SchemaError indicates input data that cannot serve as a model table:
// non-rectangular input, duplicate column names, unsupported element types,
// or a missing column at prediction time.
type SchemaError struct {
	Op      string // operation that rejected the data
	Column  string // offending column, if a single column is at fault
	Message string // human-readable description
}

// NewSchemaError creates a SchemaError for the given operation.
func NewSchemaError(op, message string) *SchemaError {
	return &SchemaError{Op: op, Message: message}
}

// NewMissingColumnError creates a SchemaError for a column required by a
// fitted formula but absent from the prediction data.
func NewMissingColumnError(op, column string) *SchemaError {
	return &SchemaError{
		Op:      op,
		Column:  column,
		Message: fmt.Sprintf("required column %q is missing", column),
	}
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: schema error: %s", e.Op, e.Message)
}

// FormulaError indicates a formula that cannot be expanded against the data:
// an unknown column reference, an unparsable term, or a formula shape
// (response-bearing vs. response-less) the model family does not accept.
type FormulaError struct {
	Op      string // operation that rejected the formula
	Formula string // textual form of the offending formula or term
	Message string // human-readable description
}

// NewFormulaError creates a FormulaError for the given operation.
func NewFormulaError(op, formula, message string) *FormulaError {
	return &FormulaError{Op: op, Formula: formula, Message: message}
}

func (e *FormulaError) Error() string {
	if e.Formula == "" {
		return fmt.Sprintf("%s: formula error: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: formula error in %q: %s", e.Op, e.Formula, e.Message)
}

// DependencyError indicates that a required capability is unavailable,
// typically a model family with no registered fitting engine. It is raised
// before any data processing begins.
type DependencyError struct {
	Capability string // name of the missing capability (e.g. the family identifier)
}

// NewDependencyError creates a DependencyError for the named capability.
func NewDependencyError(capability string) *DependencyError {
	return &DependencyError{Capability: capability}
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("required capability %q is not available", e.Capability)
}

// DimensionError indicates mismatched matrix or vector dimensions.
type DimensionError struct {
	Op       string // operation where the mismatch occurred
	Expected int    // expected size
	Got      int    // actual size
	Axis     int    // axis of the mismatch (0 = rows, 1 = columns)
}

// NewDimensionError creates a DimensionError for the given operation.
func NewDimensionError(op string, expected, got, axis int) *DimensionError {
	return &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch on axis %d: expected %d, got %d",
		e.Op, e.Axis, e.Expected, e.Got)
}

// NotFittedError indicates that a model was used before being fitted.
type NotFittedError struct {
	ModelName string // model type name
	Method    string // method that required a fitted model
}

// NewNotFittedError creates a NotFittedError for the given model and method.
func NewNotFittedError(modelName, method string) *NotFittedError {
	return &NotFittedError{ModelName: modelName, Method: method}
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s: model is not fitted, call Fit before %s", e.ModelName, e.Method)
}

// ValueError indicates an invalid argument value.
type ValueError struct {
	Op      string // operation that received the value
	Message string // human-readable description
}

// NewValueError creates a ValueError for the given operation.
func NewValueError(op, message string) *ValueError {
	return &ValueError{Op: op, Message: message}
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: invalid value: %s", e.Op, e.Message)
}

// ModelError indicates a model operation failure, wrapping an underlying
// cause (often one of the package sentinels).
type ModelError struct {
	Op      string // failing operation
	Message string // human-readable description
	Err     error  // underlying cause
}

// NewModelError creates a ModelError wrapping the given cause.
func NewModelError(op, message string, err error) *ModelError {
	return &ModelError{Op: op, Message: message, Err: err}
}

func (e *ModelError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As traversal.
func (e *ModelError) Unwrap() error {
	return e.Err
}

// Recover converts a panic in the surrounding function into an error,
// assigning it to *errp. Use as a deferred call at the top of exported
// entry points:
//
//	func (m *Model) Fit(X mat.Matrix) (err error) {
//	    defer errors.Recover(&err, "Model.Fit")
//	    ...
//	}
func Recover(errp *error, op string) {
	if r := recover(); r != nil {
		if err, ok := r.(error); ok {
			*errp = cockroacherrors.Wrapf(err, "%s: panic recovered", op)
			return
		}
		*errp = cockroacherrors.Newf("%s: panic recovered: %v", op, r)
	}
}
