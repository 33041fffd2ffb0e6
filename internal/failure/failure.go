package failure

import "errors"

// Sentinels for the three failure classes a job distinguishes. Wrap them with
// fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrTransientIO marks store, index or network failures that may succeed on retry.
	ErrTransientIO = errors.New("transient io failure")
	// ErrData marks malformed or empty content. The item is skipped, never fatal.
	ErrData = errors.New("invalid content")
	// ErrConfig marks missing or invalid configuration. Jobs abort before processing.
	ErrConfig = errors.New("invalid configuration")
)

// IsFatal reports whether err must abort a whole invocation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig)
}
