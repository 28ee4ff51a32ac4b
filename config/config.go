// Package config holds the engine-wide tunables that are not directory
// content: the replica's identity, the base-entry streaming chunk size,
// and log verbosity. Grounded on nicolagi/muscle's own config package: a
// line-based "key value" file under a base directory, no JSON/INI parser.
package config

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nicolagi/worktree/internal/clock"
)

// DefaultBaseDirectoryPath is where a replica's identity and tunables are
// stored. It defaults to $WORKTREE_BASE if set, otherwise $HOME/lib/worktree.
var DefaultBaseDirectoryPath string

func init() {
	if base := os.Getenv("WORKTREE_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/worktree")
	}
}

const defaultChunkSize = 500

// C is the loaded configuration for one replica.
type C struct {
	// ReplicaID identifies this replica in every Lamport/Local timestamp it
	// produces. Persisted so it survives process restarts: minting a fresh
	// one on every run would make every FileId and Op this replica ever
	// created unrecognizable to itself after a restart.
	ReplicaID clock.ReplicaID

	// ChunkSize is how many DirEntry values Epoch.AppendBaseEntries
	// ingests per clone-and-apply trial (spec.md §4.5).
	ChunkSize int

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	// Empty means the caller's own logrus configuration is left alone.
	LogLevel string

	base string
}

// Option customizes a C after it is loaded, before Load returns it.
type Option func(*C) error

// WithChunkSize overrides the base-entry streaming chunk size.
func WithChunkSize(n int) Option {
	return func(c *C) error {
		if n <= 0 {
			return fmt.Errorf("config.WithChunkSize: chunk size must be positive, got %d", n)
		}
		c.ChunkSize = n
		return nil
	}
}

// WithLogLevel overrides the configured log level.
func WithLogLevel(level string) Option {
	return func(c *C) error {
		c.LogLevel = level
		return nil
	}
}

// Load reads the configuration file "config" from base, generating it (with
// a fresh random ReplicaID) on first use. opts are applied after loading,
// so callers can override individual fields without editing the file.
func Load(base string, opts ...Option) (*C, error) {
	filename := filepath.Join(base, "config")
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		if err := Initialize(base); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	c, err := load(f)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	c.base = base
	if c.ChunkSize == 0 {
		c.ChunkSize = defaultChunkSize
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}
	return c, nil
}

func load(f io.Reader) (*C, error) {
	c := &C{}
	var replicaHex string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return nil, fmt.Errorf("load: no separator in %q", line)
		}
		key, val := line[:i], strings.TrimSpace(line[i:])
		switch key {
		case "replica-id":
			replicaHex = val
		case "chunk-size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("load: %w", err)
			}
			c.ChunkSize = n
		case "log-level":
			c.LogLevel = val
		default:
			return nil, fmt.Errorf("load: unknown key %q", key)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if replicaHex == "" {
		return nil, fmt.Errorf("load: missing replica-id")
	}
	decoded, err := hex.DecodeString(replicaHex)
	if err != nil {
		return nil, fmt.Errorf("load: replica-id: %w", err)
	}
	if len(decoded) != len(c.ReplicaID) {
		return nil, fmt.Errorf("load: replica-id: want %d bytes, got %d", len(c.ReplicaID), len(decoded))
	}
	copy(c.ReplicaID[:], decoded)
	return c, nil
}

// Initialize writes a fresh config file under baseDir, minting a random
// ReplicaID. It fails if a config file already exists there.
func Initialize(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("%q: could not mkdir: %w", baseDir, err)
	}
	path := filepath.Join(baseDir, "config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%q: already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%q: could not determine if it exists: %w", path, err)
	}

	var id clock.ReplicaID
	n, err := rand.Read(id[:])
	if err != nil {
		return fmt.Errorf("could not read %d random bytes: %w", len(id), err)
	}
	if n != len(id) {
		return fmt.Errorf("could not read %d random bytes, got only %d", len(id), n)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "replica-id %s\n", hex.EncodeToString(id[:]))
	fmt.Fprintf(&buf, "chunk-size %d\n", defaultChunkSize)
	buf.WriteString("log-level info\n")
	if err := ioutil.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config.Initialize %q: %w", path, err)
	}
	return nil
}

// BaseDirectoryPath returns the directory this configuration was loaded
// from.
func (c *C) BaseDirectoryPath() string {
	return c.base
}
