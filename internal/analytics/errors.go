package analytics

import "fmt"

// InsufficientDataError means a method lacked the minimum history it needs.
type InsufficientDataError struct {
	What string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient %s data for analysis (have %d, need at least %d)", e.What, e.Have, e.Need)
}

// ModelFitError wraps a failure to fit a model for one entity.
type ModelFitError struct {
	Entity string
	Err    error
}

func (e *ModelFitError) Error() string {
	if e.Entity == "" {
		return fmt.Sprintf("model fit failed: %v", e.Err)
	}
	return fmt.Sprintf("model fit failed for %s: %v", e.Entity, e.Err)
}

func (e *ModelFitError) Unwrap() error { return e.Err }
