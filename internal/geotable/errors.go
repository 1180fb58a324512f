package geotable

import (
	"errors"
	"fmt"
)

// ErrPrefilterUnavailable is returned by Index.Search when the table has no
// usable spatial index. Callers fall back to scanning every row.
var ErrPrefilterUnavailable = errors.New("geotable: spatial prefilter unavailable")

// FormatError reports a geometry encoding that no decoder strategy recognised.
// It is fatal for the table being loaded.
type FormatError struct {
	Source string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unrecognised geometry encoding in %s", e.Source)
	}
	return fmt.Sprintf("unrecognised geometry encoding in %s: %v", e.Source, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// SchemaError reports required columns missing from a source.
type SchemaError struct {
	Source  string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: missing required columns %v", e.Source, e.Missing)
}

// ParameterError reports a missing or malformed request parameter. It maps
// to a 400 response and is never fatal to the process.
type ParameterError struct {
	Param  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// ComputationError wraps an unexpected failure during spatial computation.
type ComputationError struct {
	Op  string
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// IsParameterError reports whether err (or any error in its chain) is a ParameterError.
func IsParameterError(err error) bool {
	var pe *ParameterError
	return errors.As(err, &pe)
}

// IsFormatError reports whether err (or any error in its chain) is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsSchemaError reports whether err (or any error in its chain) is a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
