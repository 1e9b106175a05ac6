package adapter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/patchlings/patchlings/internal/telemetry"

	"github.com/fsnotify/fsnotify"
)

// TailSource follows a JSONL file, ingesting lines already present and then
// lines appended while it watches. A line is processed once its newline
// arrives; a trailing partial line waits for the next write.
type TailSource struct {
	path      string
	batchSize int
	now       func() time.Time

	partial []byte
	offset  int64
}

func NewTailSource(path string, batchSize int) *TailSource {
	return &TailSource{path: path, batchSize: batchSize}
}

func (s *TailSource) Run(ctx context.Context, sink Sink) error {
	b := newBatcher(sink, s.batchSize, s.now)

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.drain(f, b); err != nil {
		return err
	}
	if err := b.flush(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return b.finish()

		case event, ok := <-watcher.Events:
			if !ok {
				return b.finish()
			}
			if event.Op.Has(fsnotify.Write) {
				if err := s.drain(f, b); err != nil {
					return err
				}
				if err := b.flush(); err != nil {
					return err
				}
			}
			if event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename) {
				slog.Info("Tailed file went away, stopping", "path", s.path)
				return b.finish()
			}

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return b.finish()
			}
			slog.Warn("Watcher error", "path", s.path, "error", watchErr)
		}
	}
}

// drain reads everything after the current offset and feeds complete lines
// to the batcher.
func (s *TailSource) drain(f *os.File, b *batcher) error {
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	s.offset += int64(len(data))

	buf := append(s.partial, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(buf[:idx]))
		buf = buf[idx+1:]
		if line == "" {
			continue
		}

		event, err := telemetry.Decode([]byte(line))
		if err != nil {
			if err := b.addUnparsed(err.Error()); err != nil {
				return err
			}
			continue
		}
		if err := b.add(event); err != nil {
			return err
		}
	}
	s.partial = append(s.partial[:0], buf...)
	return nil
}
