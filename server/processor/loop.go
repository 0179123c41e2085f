package processor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/san-kum/driver-safety/server/models"
	"go.uber.org/zap"
)

// FrameSource yields one observation per call. It returns models.ErrNoFrame
// when a frame could not be acquired this time and io.EOF when the source is
// exhausted.
type FrameSource interface {
	Next(ctx context.Context) (models.FrameObservation, error)
}

// ResultSink receives every processed frame.
type ResultSink interface {
	Publish(result models.FrameResult)
}

// ResetSink is implemented by sinks that announce session resets to their
// clients.
type ResetSink interface {
	PublishReset(summary models.SessionSummary)
}

type Command int

const (
	CommandReset Command = iota
	CommandQuit
)

func (c Command) String() string {
	switch c {
	case CommandReset:
		return "reset"
	case CommandQuit:
		return "quit"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// Run pulls frames from source until ctx is cancelled, the source ends, or a
// quit command arrives. Commands are only applied between frames. A nil
// sink discards results and a nil commands channel is never polled.
func (fp *FrameProcessor) Run(ctx context.Context, source FrameSource, sink ResultSink, commands <-chan Command) error {
	fp.logger.Info("Frame loop started", zap.String("session_id", fp.sessionID))
	defer fp.logger.Info("Frame loop stopped", zap.String("session_id", fp.sessionID))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if quit := fp.pollCommands(commands, sink); quit {
			return nil
		}

		obs, err := source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrNoFrame):
				fp.RecordSkipped()
				continue
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("frame source failed: %w", err)
			}
		}

		result := fp.ProcessFrame(&obs)
		if sink != nil {
			sink.Publish(result)
		}
	}
}

// pollCommands drains pending commands without blocking and reports whether
// the loop should stop.
func (fp *FrameProcessor) pollCommands(commands <-chan Command, sink ResultSink) bool {
	if commands == nil {
		return false
	}

	for {
		select {
		case cmd, ok := <-commands:
			if !ok {
				return false
			}
			fp.logger.Info("Command received", zap.Stringer("command", cmd))
			switch cmd {
			case CommandReset:
				fp.ResetStatistics()
				if resets, ok := sink.(ResetSink); ok {
					resets.PublishReset(fp.Summary())
				}
			case CommandQuit:
				return true
			}
		default:
			return false
		}
	}
}
