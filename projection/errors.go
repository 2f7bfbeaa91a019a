package projection

import "fmt"

// StopError collects the failures of StopAll, keyed by projection name.
type StopError struct {
	Total  int
	Errors map[string]error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop projections: %d of %d failed", len(e.Errors), e.Total)
}

// Unwrap returns every inner error so errors.Is and errors.As match
// through the collection.
func (e *StopError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}
	return errs
}
