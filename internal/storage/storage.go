package storage

import (
	"github.com/patchlings/patchlings/internal/chapter"
	"github.com/patchlings/patchlings/internal/salt"
	"github.com/patchlings/patchlings/internal/world"
)

// Store persists the engine's durable artifacts: the world snapshot
// (overwrite), chapter summaries (append-only), recordings (append-only,
// size-rotated by the caller), and salts (overwrite).
type Store interface {
	LoadWorld() (*world.World, error)
	SaveWorld(w *world.World) error

	AppendChapter(s chapter.Summary) error
	LoadChapters(limit int) ([]chapter.Summary, error)

	AppendRecording(runID string, index int, line []byte) error

	LoadSalts() (*salt.File, error)
	SaveSalts(f *salt.File) error

	PatchlingsDir() string
	StoryDir() string
	RecordingsDir() string
}
