package job

import "errors"

var (
	ErrCoolingDown = errors.New("recently failed, retry later")
	ErrNotFound    = errors.New("job not found")
)

// Transient marks err as a failure the next Start may retry at once. The
// failure is still reported by State, but it does not start a cooldown.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
