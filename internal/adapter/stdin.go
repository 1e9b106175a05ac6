package adapter

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/patchlings/patchlings/internal/telemetry"
)

// StdinSource reads line-delimited JSON records from a reader, usually the
// process stdin.
type StdinSource struct {
	reader    io.Reader
	batchSize int
	now       func() time.Time
}

func NewStdinSource(r io.Reader, batchSize int) *StdinSource {
	return &StdinSource{reader: r, batchSize: batchSize}
}

func (s *StdinSource) Run(ctx context.Context, sink Sink) error {
	b := newBatcher(sink, s.batchSize, s.now)

	scanner := bufio.NewScanner(s.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		event, err := telemetry.Decode([]byte(line))
		if err != nil {
			slog.Debug("Unparsed input line", "error", err)
			if err := b.addUnparsed(err.Error()); err != nil {
				return err
			}
			continue
		}
		if err := b.add(event); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return b.finish()
}
