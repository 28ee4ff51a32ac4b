package worktree

import "fmt"

// Sentinel errors surfaced across the WorkTree boundary, matching the
// taxonomy every other package in this module follows.
var (
	ErrInvalidPath       = fmt.Errorf("invalid path")
	ErrInvalidBufferId   = fmt.Errorf("invalid buffer id")
	ErrInvalidOperations = fmt.Errorf("epoch operation received before any epoch existed")
	ErrIO                = fmt.Errorf("io error")
	ErrNoMergeBase       = fmt.Errorf("no merge base")
)

func errorf(method, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/nicolagi/worktree/worktree."+method+": "+format, a...)
}
