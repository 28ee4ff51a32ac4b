package epoch

import "fmt"

// Sentinel errors surfaced across the Epoch boundary, matching the error
// taxonomy every other package in this module follows: typed, recoverable
// failures the caller decides how to handle.
var (
	ErrInvalidPath     = fmt.Errorf("invalid path")
	ErrInvalidFileId   = fmt.Errorf("invalid file id")
	ErrInvalidOperation = fmt.Errorf("invalid operation")
	ErrInvalidDirEntry = fmt.Errorf("invalid directory entry")
	ErrCursorExhausted = fmt.Errorf("cursor exhausted")
)

// errPrecondition is not part of the public taxonomy: it signals, internal
// to applyBatchAndFixups, that an operation's precondition (the FileId it
// names does not yet exist) was not met and the operation should be
// deferred rather than rejected.
var errPrecondition = fmt.Errorf("precondition not met")

func errorf(method, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/nicolagi/worktree/internal/epoch."+method+": "+format, a...)
}
