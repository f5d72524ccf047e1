package engine

import "errors"

// Error kinds. An *OpError wraps one of these together with the cause.
var (
	ErrMissingInput  = errors.New("missing input")
	ErrSizeMismatch  = errors.New("size mismatch")
	ErrTypeMismatch  = errors.New("type mismatch")
	ErrReversedInput = errors.New("input is already reversed")
	ErrIO            = errors.New("i/o failure")
	ErrInvalidShape  = errors.New("invalid shape")
)

// Operation names used in errors and log fields.
const (
	OpReverse = "reverse"
	OpStats   = "stats"
	OpExport  = "export"
	OpImport  = "import"
)

// OpError records the operation and dataset or group that failed.
// errors.Is matches both Kind and the wrapped cause.
type OpError struct {
	Op   string
	Name string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	msg := e.Op + " " + e.Name
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Status is the outcome of a successful operation.
type Status int

const (
	// StatusComputed means outputs were written.
	StatusComputed Status = iota
	// StatusSkipped means complete outputs already existed.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusComputed:
		return "computed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}
