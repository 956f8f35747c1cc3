// Package sensor reads linear acceleration samples from an IMU and hands
// them to a registered listener on the UI loop.
package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vzahanych/camsense/internal/logger"
	"github.com/vzahanych/camsense/internal/motion"
)

// ErrMalformed is returned by ParseLine for lines that are not samples
var ErrMalformed = errors.New("malformed sensor line")

// Source produces samples until ctx is cancelled or the input ends
type Source interface {
	Name() string
	Run(ctx context.Context, deliver func(motion.Sample)) error
}

// Clock returns a monotonic timestamp in nanoseconds
type Clock func() int64

// MonotonicClock returns a clock counting from its creation
func MonotonicClock() Clock {
	start := time.Now()
	return func() int64 { return int64(time.Since(start)) }
}

// ParseLine parses "timestamp_ns,x,y,z" or "x,y,z". Lines without a
// timestamp are stamped with clock.
func ParseLine(line string, clock Clock) (motion.Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return motion.Sample{}, ErrMalformed
	}
	parts := strings.Split(line, ",")

	var s motion.Sample
	var axes []string
	switch len(parts) {
	case 4:
		ts, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return motion.Sample{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, parts[0])
		}
		s.Timestamp = ts
		axes = parts[1:]
	case 3:
		s.Timestamp = clock()
		axes = parts
	default:
		return motion.Sample{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(parts))
	}

	vals := [3]float32{}
	for i, a := range axes {
		v, err := strconv.ParseFloat(strings.TrimSpace(a), 32)
		if err != nil {
			return motion.Sample{}, fmt.Errorf("%w: axis %q", ErrMalformed, a)
		}
		vals[i] = float32(v)
	}
	s.X, s.Y, s.Z = vals[0], vals[1], vals[2]
	return s, nil
}

// ReaderSource parses samples from any reader, e.g. a replay file
type ReaderSource struct {
	name     string
	r        io.Reader
	clock    Clock
	logger   *logger.Logger
	realtime bool
}

// NewReaderSource creates a source over r. With realtime set, samples are
// delivered spaced by their timestamps instead of as fast as possible.
func NewReaderSource(name string, r io.Reader, realtime bool, log *logger.Logger) *ReaderSource {
	return &ReaderSource{name: name, r: r, clock: MonotonicClock(), logger: log, realtime: realtime}
}

// Name returns the source name
func (s *ReaderSource) Name() string {
	return s.name
}

// Run reads until EOF or ctx is done. Malformed lines are skipped.
func (s *ReaderSource) Run(ctx context.Context, deliver func(motion.Sample)) error {
	return scanSamples(ctx, s.r, s.clock, s.realtime, s.logger, deliver)
}

func scanSamples(ctx context.Context, r io.Reader, clock Clock, realtime bool, log *logger.Logger, deliver func(motion.Sample)) error {
	scanner := bufio.NewScanner(r)
	var prev int64
	first := true
	skipped := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample, err := ParseLine(scanner.Text(), clock)
		if err != nil {
			skipped++
			log.Debug("Skipping sensor line", "error", err)
			continue
		}
		if realtime && !first && sample.Timestamp > prev {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(sample.Timestamp - prev)):
			}
		}
		first = false
		prev = sample.Timestamp
		deliver(sample)
	}
	if skipped > 0 {
		log.Warn("Skipped malformed sensor lines", "count", skipped)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read sensor: %w", err)
	}
	return ctx.Err()
}

// FileSource replays a CSV capture in real time
type FileSource struct {
	path   string
	logger *logger.Logger
}

// NewFileSource creates a replay source for path
func NewFileSource(path string, log *logger.Logger) *FileSource {
	return &FileSource{path: path, logger: log}
}

// Name returns the replay file path
func (s *FileSource) Name() string {
	return s.path
}

// Run opens the file and replays it, paced by the recorded timestamps
func (s *FileSource) Run(ctx context.Context, deliver func(motion.Sample)) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return scanSamples(ctx, f, MonotonicClock(), true, s.logger, deliver)
}
