package landmarks

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

const maxReplayLine = 1024 * 1024

// Replay reads recorded observations, one JSON object per line. Blank or
// malformed lines stand in for frames the camera failed to deliver.
type Replay struct {
	scanner  *bufio.Scanner
	closer   io.Closer
	interval time.Duration
	last     time.Time
	line     int
	logger   *zap.Logger
}

// NewReplay wraps r. When fps is positive, Next paces frames to that rate.
func NewReplay(r io.Reader, fps int, logger *zap.Logger) *Replay {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	replay := &Replay{
		scanner: scanner,
		logger:  logger,
	}
	if closer, ok := r.(io.Closer); ok {
		replay.closer = closer
	}
	if fps > 0 {
		replay.interval = time.Second / time.Duration(fps)
	}
	return replay
}

func OpenReplay(path string, fps int, logger *zap.Logger) (*Replay, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}

	logger.Info("Replaying recorded session", zap.String("path", path), zap.Int("fps", fps))
	return NewReplay(file, fps, logger), nil
}

func (r *Replay) Next(ctx context.Context) (models.FrameObservation, error) {
	if err := r.pace(ctx); err != nil {
		return models.FrameObservation{}, err
	}

	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return models.FrameObservation{}, fmt.Errorf("failed to read replay: %w", err)
		}
		return models.FrameObservation{}, io.EOF
	}
	r.line++

	data := bytes.TrimSpace(r.scanner.Bytes())
	if len(data) == 0 {
		return models.FrameObservation{}, models.ErrNoFrame
	}

	var obs models.FrameObservation
	if err := json.Unmarshal(data, &obs); err != nil {
		r.logger.Warn("Skipping malformed replay line", zap.Int("line", r.line), zap.Error(err))
		return models.FrameObservation{}, models.ErrNoFrame
	}

	return obs, nil
}

func (r *Replay) pace(ctx context.Context) error {
	if r.interval <= 0 {
		return ctx.Err()
	}

	if !r.last.IsZero() {
		wait := r.interval - time.Since(r.last)
		if wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	r.last = time.Now()
	return nil
}

func (r *Replay) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
