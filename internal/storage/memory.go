package storage

import (
	"encoding/json"

	"github.com/patchlings/patchlings/internal/chapter"
	"github.com/patchlings/patchlings/internal/salt"
	"github.com/patchlings/patchlings/internal/world"
)

// Memory keeps every artifact in process memory. Used by tests and the
// storage=memory engine mode. Values round-trip through JSON so the memory
// store observes the same marshaling behavior as the FS store.
type Memory struct {
	world      []byte
	salts      []byte
	chapters   [][]byte
	recordings map[string][][]byte
}

func NewMemory() *Memory {
	return &Memory{recordings: make(map[string][][]byte)}
}

func (m *Memory) PatchlingsDir() string { return "" }
func (m *Memory) StoryDir() string      { return "" }
func (m *Memory) RecordingsDir() string { return "" }

func (m *Memory) LoadWorld() (*world.World, error) {
	if m.world == nil {
		return nil, nil
	}
	var w world.World
	if err := json.Unmarshal(m.world, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (m *Memory) SaveWorld(w *world.World) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	m.world = data
	return nil
}

func (m *Memory) AppendChapter(s chapter.Summary) error {
	line, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.chapters = append(m.chapters, line)
	return nil
}

func (m *Memory) LoadChapters(limit int) ([]chapter.Summary, error) {
	var out []chapter.Summary
	for _, line := range m.chapters {
		var s chapter.Summary
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) AppendRecording(runID string, index int, line []byte) error {
	name := RecordingFileName(runID, index)
	copied := make([]byte, len(line))
	copy(copied, line)
	m.recordings[name] = append(m.recordings[name], copied)
	return nil
}

// Recording returns the lines appended to one rotated recording file.
func (m *Memory) Recording(runID string, index int) [][]byte {
	return m.recordings[RecordingFileName(runID, index)]
}

func (m *Memory) LoadSalts() (*salt.File, error) {
	if m.salts == nil {
		return nil, nil
	}
	var f salt.File
	if err := json.Unmarshal(m.salts, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (m *Memory) SaveSalts(f *salt.File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	m.salts = data
	return nil
}
