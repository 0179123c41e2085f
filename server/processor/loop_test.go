package processor

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/san-kum/driver-safety/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	obs    *models.FrameObservation
	err    error
	before func()
}

type scriptedSource struct {
	steps []step
	calls int
}

func (s *scriptedSource) Next(ctx context.Context) (models.FrameObservation, error) {
	if s.calls >= len(s.steps) {
		return models.FrameObservation{}, io.EOF
	}

	st := s.steps[s.calls]
	s.calls++

	if st.before != nil {
		st.before()
	}
	if st.err != nil {
		return models.FrameObservation{}, st.err
	}
	return *st.obs, nil
}

type collectingSink struct {
	results []models.FrameResult
	resets  []models.SessionSummary
}

func (s *collectingSink) Publish(result models.FrameResult) {
	s.results = append(s.results, result)
}

func (s *collectingSink) PublishReset(summary models.SessionSummary) {
	s.resets = append(s.resets, summary)
}

func frames(obs func() *models.FrameObservation, n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{obs: obs()}
	}
	return steps
}

func TestRunProcessesUntilEOF(t *testing.T) {
	fp, _ := newTestProcessor(t, testConfig())

	var steps []step
	steps = append(steps, frames(closedEyes, 30)...)
	steps = append(steps, step{err: models.ErrNoFrame}, step{err: models.ErrNoFrame})
	steps = append(steps, frames(openEyes, 1)...)

	source := &scriptedSource{steps: steps}
	sink := &collectingSink{}

	require.NoError(t, fp.Run(context.Background(), source, sink, nil))

	require.Len(t, sink.results, 31)
	assert.True(t, sink.results[29].Drowsiness.EyesClosed)
	assert.Equal(t, 1, sink.results[30].Drowsiness.TotalEyeClosures)

	stats := fp.GetStats()
	assert.Equal(t, int64(2), stats.SkippedFrames)
	assert.Equal(t, int64(31), stats.TotalProcessed)
}

// A failed acquisition in the middle of a closure must not count as a
// frame for the state machines.
func TestRunSkippedFramesLeaveStateAlone(t *testing.T) {
	fp, _ := newTestProcessor(t, testConfig())

	var steps []step
	steps = append(steps, frames(closedEyes, 15)...)
	for i := 0; i < 10; i++ {
		steps = append(steps, step{err: models.ErrNoFrame})
	}
	steps = append(steps, frames(closedEyes, 14)...)

	sink := &collectingSink{}
	require.NoError(t, fp.Run(context.Background(), &scriptedSource{steps: steps}, sink, nil))

	last := sink.results[len(sink.results)-1]
	assert.Equal(t, 29, last.Drowsiness.EyeClosedFrames)
	assert.False(t, last.Drowsiness.EyesClosed)
}

func TestRunCommands(t *testing.T) {
	fp, _ := newTestProcessor(t, testConfig())
	commands := make(chan Command, 2)

	var steps []step
	steps = append(steps, frames(closedEyes, 40)...)
	steps = append(steps, step{err: models.ErrNoFrame, before: func() { commands <- CommandReset }})
	steps = append(steps, frames(openEyes, 1)...)
	steps = append(steps, step{err: models.ErrNoFrame, before: func() { commands <- CommandQuit }})
	steps = append(steps, frames(closedEyes, 100)...)

	source := &scriptedSource{steps: steps}
	sink := &collectingSink{}

	require.NoError(t, fp.Run(context.Background(), source, sink, commands))

	assert.Len(t, sink.results, 41)
	assert.Equal(t, 43, source.calls, "loop stops right after the quit command")

	last := sink.results[len(sink.results)-1]
	assert.Equal(t, 0, last.Drowsiness.TotalEyeClosures, "closure in progress was discarded by the reset")
	assert.Equal(t, 0.0, last.Drowsiness.Score)

	require.Len(t, sink.resets, 1, "the sink hears about the reset")
	assert.Equal(t, 0.0, sink.resets[0].CurrentScore)
	assert.Equal(t, 0, sink.resets[0].TotalEyeClosures)
}

func TestRunStopsOnCancel(t *testing.T) {
	fp, _ := newTestProcessor(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &scriptedSource{steps: frames(openEyes, 5)}
	require.NoError(t, fp.Run(ctx, source, nil, nil))
	assert.Equal(t, 0, source.calls)
}

func TestRunSourceFailure(t *testing.T) {
	fp, _ := newTestProcessor(t, testConfig())
	boom := errors.New("camera unplugged")

	steps := append(frames(openEyes, 2), step{err: boom})
	err := fp.Run(context.Background(), &scriptedSource{steps: steps}, nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), fp.GetStats().TotalProcessed)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "reset", CommandReset.String())
	assert.Equal(t, "quit", CommandQuit.String())
	assert.Equal(t, "command(7)", Command(7).String())
}
