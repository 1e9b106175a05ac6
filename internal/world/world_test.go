package world

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Shape(t *testing.T) {
	w := New("ws-abc", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, Version, w.V)
	assert.Equal(t, "ws-abc", w.WorkspaceID)
	assert.Equal(t, "2026-01-01T00:00:00Z", w.CreatedAt)
	assert.Equal(t, w.CreatedAt, w.UpdatedAt)
	assert.NotNil(t, w.Runs)
	assert.NotNil(t, w.Regions)
	assert.NotNil(t, w.Files)
	assert.NotNil(t, w.Patchlings)
}

func TestEnsureRun_Initialization(t *testing.T) {
	w := New("ws", time.Now())
	r := w.EnsureRun("run-1")

	assert.Equal(t, int64(-1), r.LastUpstreamSeq)
	assert.Equal(t, InternalSeqBase, r.InternalSeq)
	assert.Same(t, r, w.EnsureRun("run-1"))
}

func TestNextInternalSeq_MonotoneAboveBase(t *testing.T) {
	r := &Run{InternalSeq: InternalSeqBase}

	first := r.NextInternalSeq()
	second := r.NextInternalSeq()
	assert.Greater(t, first, InternalSeqBase)
	assert.Greater(t, second, first)
}

func TestEnsureFile_RegionPinnedOnFirstObservation(t *testing.T) {
	w := New("ws", time.Now())

	f, created := w.EnsureFile("file-1", "region-a")
	assert.True(t, created)
	assert.Equal(t, "region-a", f.RegionID)

	again, created := w.EnsureFile("file-1", "region-b")
	assert.False(t, created)
	assert.Equal(t, "region-a", again.RegionID)
}

func TestNormalize_LegacyLastSeq(t *testing.T) {
	raw := `{
	  "v": 1,
	  "workspace_id": "ws",
	  "runs": {
	    "run-1": {"event_count": 4, "last_seq": 17}
	  }
	}`

	var w World
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	w.Normalize()

	r := w.Runs["run-1"]
	assert.Equal(t, int64(17), r.LastUpstreamSeq)
	assert.Equal(t, InternalSeqBase, r.InternalSeq)
	require.NotNil(t, r.LegacyLastSeq)
	assert.Equal(t, int64(17), *r.LegacyLastSeq)
	assert.NotNil(t, w.Regions)
	assert.NotNil(t, w.Files)
	assert.NotNil(t, w.Patchlings)
}

func TestNormalize_KeepsModernFields(t *testing.T) {
	w := New("ws", time.Now())
	r := w.EnsureRun("run-1")
	r.LastUpstreamSeq = 42
	r.InternalSeq = InternalSeqBase + 7

	w.Normalize()
	assert.Equal(t, int64(42), r.LastUpstreamSeq)
	assert.Equal(t, InternalSeqBase+7, r.InternalSeq)
}
