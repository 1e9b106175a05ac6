package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/patchlings/patchlings/internal/chapter"
	"github.com/patchlings/patchlings/internal/salt"
	"github.com/patchlings/patchlings/internal/world"

	"github.com/natefinch/atomic"
)

const (
	worldFile    = "world.json"
	saltsFile    = "salts.json"
	chaptersFile = "chapters.ndjson"
	recordingDir = "recordings"
)

// FS stores everything under a workspace-local directory, .patchlings by
// default. world.json, chapters.ndjson, and salts.json sit flat at its root;
// only recordings get their own subdirectory. Snapshot-style files are
// written atomically; logs are appended and fsynced.
type FS struct {
	base string
}

func NewFS(workspaceRoot, dirName string) (*FS, error) {
	base := filepath.Join(workspaceRoot, dirName)
	for _, d := range []string{base, filepath.Join(base, recordingDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", d, err)
		}
	}
	return &FS{base: base}, nil
}

func (s *FS) PatchlingsDir() string {
	return s.base
}

// StoryDir returns the directory holding chapters.ndjson. The chapter log
// lives flat alongside world.json, so this is the workspace directory itself.
func (s *FS) StoryDir() string {
	return s.base
}

func (s *FS) RecordingsDir() string {
	return filepath.Join(s.base, recordingDir)
}

func (s *FS) LoadWorld() (*world.World, error) {
	data, err := os.ReadFile(filepath.Join(s.base, worldFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var w world.World
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse %s: %w", worldFile, err)
	}
	return &w, nil
}

func (s *FS) SaveWorld(w *world.World) error {
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(s.base, worldFile), bytes.NewReader(data))
}

func (s *FS) AppendChapter(summary chapter.Summary) error {
	line, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return appendLine(filepath.Join(s.base, chaptersFile), line)
}

func (s *FS) LoadChapters(limit int) ([]chapter.Summary, error) {
	f, err := os.Open(filepath.Join(s.base, chaptersFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []chapter.Summary
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var summary chapter.Summary
		if err := json.Unmarshal([]byte(line), &summary); err != nil {
			return nil, fmt.Errorf("parse %s: %w", chaptersFile, err)
		}
		out = append(out, summary)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *FS) AppendRecording(runID string, index int, line []byte) error {
	return appendLine(filepath.Join(s.base, recordingDir, RecordingFileName(runID, index)), line)
}

func (s *FS) LoadSalts() (*salt.File, error) {
	data, err := os.ReadFile(filepath.Join(s.base, saltsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f salt.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", saltsFile, err)
	}
	return &f, nil
}

func (s *FS) SaveSalts(f *salt.File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(s.base, saltsFile), bytes.NewReader(data))
}

// RecordingFileName formats the rotated recording name for a run:
// "<run>.jsonl" for the first file, "<run>-<n>.jsonl" afterwards.
func RecordingFileName(runID string, index int) string {
	safe := sanitizeRunID(runID)
	if index == 0 {
		return safe + ".jsonl"
	}
	return fmt.Sprintf("%s-%d.jsonl", safe, index)
}

func sanitizeRunID(runID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, runID)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}
