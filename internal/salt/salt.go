package salt

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// HashLen is the length of every derived identifier, in hex characters.
const HashLen = 12

// Hash derives a short stable identifier for value under salt:
// sha256(salt || "|" || value) truncated to the first 12 hex characters.
func Hash(value, salt string) string {
	sum := sha256.Sum256([]byte(salt + "|" + value))
	return hex.EncodeToString(sum[:])[:HashLen]
}

// NormalizePath rewrites separators to forward slashes and collapses
// redundant segments so equivalent spellings hash identically.
func NormalizePath(p string) string {
	normalized := strings.ReplaceAll(p, "\\", "/")
	cleaned := path.Clean(normalized)
	if cleaned == "" {
		return "."
	}
	return cleaned
}

// HashPath hashes a normalized path under salt.
func HashPath(p, salt string) string {
	return Hash(NormalizePath(p), salt)
}

// DirOf returns the normalized directory of p, or "." when nothing remains
// after stripping the final segment.
func DirOf(p string) string {
	dir := path.Dir(NormalizePath(p))
	if dir == "" {
		return "."
	}
	return dir
}

// HashDir hashes the directory (region) of a path under salt.
func HashDir(p, salt string) string {
	return Hash(DirOf(p), salt)
}

// RunSalt is one run's salt together with its mint time.
type RunSalt struct {
	Salt      string `json:"salt"`
	CreatedAt string `json:"created_at"`
}

// File is the persisted shape of salts.json.
type File struct {
	WorkspaceSalt string             `json:"workspace_salt"`
	Runs          map[string]RunSalt `json:"runs"`
}

// Options pins salts for deterministic tests and replays. A fixed workspace
// salt wins over a persisted one; fixed run salts are never lazily replaced.
type Options struct {
	FixedWorkspaceSalt string
	FixedRunSalts      map[string]string
	Now                func() time.Time
}

// Manager owns the workspace salt and the run_id -> salt mapping. Salts are
// created on first use and read-only afterwards.
type Manager struct {
	workspaceSalt string
	runs          map[string]RunSalt
	fixedRuns     map[string]string
	now           func() time.Time
	dirty         bool
}

// NewManager builds a manager from options and any previously persisted state.
// persisted may be nil on first start.
func NewManager(opts Options, persisted *File) (*Manager, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		runs:      make(map[string]RunSalt),
		fixedRuns: opts.FixedRunSalts,
		now:       now,
	}

	if persisted != nil {
		m.workspaceSalt = persisted.WorkspaceSalt
		for id, rs := range persisted.Runs {
			m.runs[id] = rs
		}
	}

	if opts.FixedWorkspaceSalt != "" {
		if m.workspaceSalt != opts.FixedWorkspaceSalt {
			m.workspaceSalt = opts.FixedWorkspaceSalt
			m.dirty = true
		}
	} else if m.workspaceSalt == "" {
		fresh, err := randomSalt()
		if err != nil {
			return nil, fmt.Errorf("generate workspace salt: %w", err)
		}
		m.workspaceSalt = fresh
		m.dirty = true
	}

	return m, nil
}

// WorkspaceSalt returns the long-lived workspace salt.
func (m *Manager) WorkspaceSalt() string {
	return m.workspaceSalt
}

// WorkspaceID derives the stable workspace identifier for a workspace path.
func (m *Manager) WorkspaceID(workspacePath string) string {
	return Hash(workspacePath, m.workspaceSalt)
}

// RunSalt returns the salt for a run, minting one on first request.
func (m *Manager) RunSalt(runID string) (string, error) {
	if fixed, ok := m.fixedRuns[runID]; ok {
		if existing, present := m.runs[runID]; !present || existing.Salt != fixed {
			m.runs[runID] = RunSalt{Salt: fixed, CreatedAt: m.now().UTC().Format(time.RFC3339)}
			m.dirty = true
		}
		return fixed, nil
	}
	if existing, ok := m.runs[runID]; ok {
		return existing.Salt, nil
	}

	fresh, err := randomSalt()
	if err != nil {
		return "", fmt.Errorf("generate run salt: %w", err)
	}
	m.runs[runID] = RunSalt{Salt: fresh, CreatedAt: m.now().UTC().Format(time.RFC3339)}
	m.dirty = true
	return fresh, nil
}

// Dirty reports whether state changed since the last Snapshot.
func (m *Manager) Dirty() bool {
	return m.dirty
}

// Snapshot returns the persistable state and clears the dirty flag.
func (m *Manager) Snapshot() *File {
	m.dirty = false
	out := &File{
		WorkspaceSalt: m.workspaceSalt,
		Runs:          make(map[string]RunSalt, len(m.runs)),
	}
	for id, rs := range m.runs {
		out.Runs[id] = rs
	}
	return out
}

func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
