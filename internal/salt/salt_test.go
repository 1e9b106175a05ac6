package salt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("src/a.ts", "run-salt")
	b := Hash("src/a.ts", "run-salt")
	assert.Equal(t, a, b)
	assert.Len(t, a, HashLen)

	assert.NotEqual(t, a, Hash("src/a.ts", "other-salt"))
	assert.NotEqual(t, a, Hash("src/b.ts", "run-salt"))
}

func TestNormalizePath_Equivalences(t *testing.T) {
	assert.Equal(t, "a/b", NormalizePath("./a/b"))
	assert.Equal(t, "a/b", NormalizePath("a//b"))
	assert.Equal(t, "a/b", NormalizePath("a/c/../b"))
	assert.Equal(t, "a/b", NormalizePath(`a\b`))
	assert.Equal(t, ".", NormalizePath(""))
}

func TestHashPath_EquivalentSpellingsMatch(t *testing.T) {
	assert.Equal(t, HashPath("./a/b", "s"), HashPath("a/b", "s"))
	assert.Equal(t, HashPath("a//b", "s"), HashPath("a/b", "s"))
}

func TestDirOf(t *testing.T) {
	assert.Equal(t, "src", DirOf("src/a.ts"))
	assert.Equal(t, ".", DirOf("a.ts"))
	assert.Equal(t, "a/b", DirOf("a/b/c.go"))
}

func TestManager_FixedSalts(t *testing.T) {
	m, err := NewManager(Options{
		FixedWorkspaceSalt: "workspace-salt",
		FixedRunSalts:      map[string]string{"run-1": "run-salt"},
		Now:                fixedNow,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "workspace-salt", m.WorkspaceSalt())

	rs, err := m.RunSalt("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-salt", rs)
}

func TestManager_PersistedWorkspaceSaltSurvivesRestart(t *testing.T) {
	first, err := NewManager(Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	assert.True(t, first.Dirty())

	snap := first.Snapshot()
	assert.False(t, first.Dirty())

	second, err := NewManager(Options{Now: fixedNow}, snap)
	require.NoError(t, err)
	assert.Equal(t, first.WorkspaceSalt(), second.WorkspaceSalt())
	assert.False(t, second.Dirty())
}

func TestManager_RunSaltLazyMintAndReuse(t *testing.T) {
	m, err := NewManager(Options{Now: fixedNow}, nil)
	require.NoError(t, err)
	m.Snapshot()

	a, err := m.RunSalt("run-a")
	require.NoError(t, err)
	assert.True(t, m.Dirty())

	again, err := m.RunSalt("run-a")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := m.RunSalt("run-b")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	snap := m.Snapshot()
	assert.Equal(t, a, snap.Runs["run-a"].Salt)
	assert.Equal(t, "2026-01-01T00:00:00Z", snap.Runs["run-a"].CreatedAt)
}

func TestManager_WorkspaceID_StableAcrossRunSalts(t *testing.T) {
	a, err := NewManager(Options{
		FixedWorkspaceSalt: "workspace-salt",
		FixedRunSalts:      map[string]string{"run-1": "salt-a"},
	}, nil)
	require.NoError(t, err)

	b, err := NewManager(Options{
		FixedWorkspaceSalt: "workspace-salt",
		FixedRunSalts:      map[string]string{"run-1": "salt-b"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, a.WorkspaceID("/tmp/ws"), b.WorkspaceID("/tmp/ws"))

	saltA, err := a.RunSalt("run-1")
	require.NoError(t, err)
	saltB, err := b.RunSalt("run-1")
	require.NoError(t, err)
	assert.NotEqual(t, HashPath("src/a.ts", saltA), HashPath("src/a.ts", saltB))
	assert.Equal(t,
		HashPath("src/a.ts", a.WorkspaceSalt()),
		HashPath("src/a.ts", b.WorkspaceSalt()),
	)
}
