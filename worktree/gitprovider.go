package worktree

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicolagi/worktree/internal/epoch"
)

// GitProvider is consumed, not implemented, by this package: it is the
// caller's window into whatever content store backs a commit (typically a
// real git repository, but nothing here assumes that). Every method may
// suspend on I/O; the core never calls either one outside of start_epoch
// and open_text_file/SwitchEpoch, per the engine's suspension-point rule.
type GitProvider interface {
	// BaseEntries returns a depth-first directory listing for head: each
	// entry's Depth is 1 at the top level, and no entry's depth exceeds the
	// previous directory's depth plus one.
	BaseEntries(ctx context.Context, head epoch.Oid) ([]epoch.DirEntry, error)
	// BaseText returns the full UTF-8 text of path as it exists in head.
	BaseText(ctx context.Context, head epoch.Oid, path string) (string, error)
}

// CommitGraph is an optional capability a GitProvider may implement to
// support MergeBase: fetching the parent commits of a head.
type CommitGraph interface {
	Parents(ctx context.Context, head epoch.Oid) ([]epoch.Oid, error)
}

// InMemoryGitProvider is a reference GitProvider fixture, not a production
// storage backend: a fixed set of commits, each a flat path->text map,
// guarded by a mutex the way internal/storage.InMemory guards its map.
// Useful for this engine's own tests and for a caller's.
type InMemoryGitProvider struct {
	mu      sync.Mutex
	commits map[epoch.Oid]map[string]string
}

// NewInMemoryGitProvider returns an empty fixture.
func NewInMemoryGitProvider() *InMemoryGitProvider {
	return &InMemoryGitProvider{commits: make(map[epoch.Oid]map[string]string)}
}

// AddCommit registers head as the given flat path->text map. Directories
// are inferred from path prefixes: "a/b.txt" implies a directory "a".
func (p *InMemoryGitProvider) AddCommit(head epoch.Oid, files map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make(map[string]string, len(files))
	for k, v := range files {
		cp[k] = v
	}
	p.commits[head] = cp
}

func (p *InMemoryGitProvider) BaseEntries(_ context.Context, head epoch.Oid) ([]epoch.DirEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	files, ok := p.commits[head]
	if !ok {
		return nil, fmt.Errorf("worktree.InMemoryGitProvider.BaseEntries: unknown commit")
	}
	return dirEntriesFromFlatMap(files), nil
}

func (p *InMemoryGitProvider) BaseText(_ context.Context, head epoch.Oid, path string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	files, ok := p.commits[head]
	if !ok {
		return "", fmt.Errorf("worktree.InMemoryGitProvider.BaseText: unknown commit")
	}
	text, ok := files[path]
	if !ok {
		return "", fmt.Errorf("worktree.InMemoryGitProvider.BaseText: %w: %s", errNotFound, path)
	}
	return text, nil
}

// Parents always returns no parents: the fixture models a flat set of
// unrelated commits, not a history graph. Satisfies CommitGraph so
// MergeBase can be exercised against it (degenerating to ErrNoMergeBase
// for any two distinct heads).
func (p *InMemoryGitProvider) Parents(context.Context, epoch.Oid) ([]epoch.Oid, error) {
	return nil, nil
}

var errNotFound = fmt.Errorf("not found")

// dirEntriesFromFlatMap builds a depth-first DirEntry listing (directories
// before their children, as BaseEntries requires) from a flat path->text
// map, synthesizing directory entries for every path prefix.
func dirEntriesFromFlatMap(files map[string]string) []epoch.DirEntry {
	type dirNode struct {
		name     string
		depth    int
		isFile   bool
		children []*dirNode
	}
	root := &dirNode{children: nil}
	index := map[string]*dirNode{"": root}

	var paths []string
	for p := range files {
		paths = append(paths, p)
	}
	sortStrings(paths)

	ensureDir := func(path string) *dirNode {
		if n, ok := index[path]; ok {
			return n
		}
		panic("unreachable: parent directories are created before children reference them")
	}

	for _, p := range paths {
		segments := splitPathSegments(p)
		parentPath := ""
		for i, seg := range segments {
			isLast := i == len(segments)-1
			fullPath := parentPath
			if fullPath != "" {
				fullPath += "/"
			}
			fullPath += seg
			if _, ok := index[fullPath]; !ok {
				node := &dirNode{name: seg, depth: i + 1, isFile: isLast}
				index[fullPath] = node
				ensureDir(parentPath).children = append(ensureDir(parentPath).children, node)
			}
			parentPath = fullPath
		}
	}

	var out []epoch.DirEntry
	var walk func(*dirNode)
	walk = func(n *dirNode) {
		for _, c := range n.children {
			typ := epoch.TypeText
			if !c.isFile {
				typ = epoch.TypeDirectory
			}
			out = append(out, epoch.DirEntry{Depth: c.depth, Name: c.name, Type: typ})
			walk(c)
		}
	}
	walk(root)
	return out
}

func splitPathSegments(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
