package chain

import (
	"errors"
	"fmt"
)

// RevertError reports that the remote contract system rejected a call. It
// is terminal: the gateway surfaces it immediately without retrying.
type RevertError struct {
	Code   string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("remote revert: %s", e.Reason)
	}
	return fmt.Sprintf("remote revert [%s]: %s", e.Code, e.Reason)
}

// IsRevert reports whether err carries a RevertError anywhere in its chain.
func IsRevert(err error) bool {
	var revert *RevertError
	return errors.As(err, &revert)
}

// ErrFieldUnavailable marks a per-field fallback getter the gateway does
// not expose; callers decide how to treat the absent value.
var ErrFieldUnavailable = errors.New("field unavailable")
