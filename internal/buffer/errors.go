package buffer

import "fmt"

// ErrUnknownFragment is returned by ApplyOps when a Delete op names a
// fragment this buffer has never seen inserted: a causal gap (the op
// stream delivered a delete before the insert it targets), not something
// normal convergence produces. The caller's batch is rejected as a whole.
var ErrUnknownFragment = fmt.Errorf("unknown fragment")

func newError(method, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/nicolagi/worktree/internal/buffer."+method+": "+format, a...)
}
