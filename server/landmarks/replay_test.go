package landmarks

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/san-kum/driver-safety/server/landmarks/landmarkstest"
	"github.com/san-kum/driver-safety/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func encodeLine(t *testing.T, obs models.FrameObservation) string {
	t.Helper()

	data, err := json.Marshal(obs)
	require.NoError(t, err)
	return string(data)
}

func TestReplay(t *testing.T) {
	box := landmarkstest.FaceBox
	withFace := models.FrameObservation{
		Timestamp: 1000,
		Width:     640,
		Height:    480,
		Face: &models.FaceObservation{
			Landmarks: landmarkstest.Face(landmarkstest.OpenEAR, landmarkstest.RestMAR),
			BBox:      &box,
		},
		Hands: models.HandObservation{landmarkstest.HandAtEar()},
	}
	noFace := models.FrameObservation{Timestamp: 1033, Width: 640, Height: 480}

	input := strings.Join([]string{
		encodeLine(t, withFace),
		"",
		"{not json",
		encodeLine(t, noFace),
	}, "\n")

	replay := NewReplay(strings.NewReader(input), 0, zap.NewNop())
	ctx := context.Background()

	obs, err := replay.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, withFace, obs)

	_, err = replay.Next(ctx)
	assert.ErrorIs(t, err, models.ErrNoFrame, "blank line")

	_, err = replay.Next(ctx)
	assert.ErrorIs(t, err, models.ErrNoFrame, "malformed line")

	obs, err = replay.Next(ctx)
	require.NoError(t, err)
	assert.Nil(t, obs.Face)
	assert.Equal(t, int64(1033), obs.Timestamp)

	_, err = replay.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	assert.NoError(t, replay.Close())
}

func TestReplayPacing(t *testing.T) {
	line := `{"timestamp":1,"width":640,"height":480}`
	input := strings.Repeat(line+"\n", 3)

	replay := NewReplay(strings.NewReader(input), 50, zap.NewNop())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := replay.Next(ctx)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestReplayStopsOnCancel(t *testing.T) {
	replay := NewReplay(strings.NewReader(`{"timestamp":1}`+"\n"), 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := replay.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"timestamp":7,"width":10,"height":10}`+"\n"), 0o600))

	replay, err := OpenReplay(path, 0, zap.NewNop())
	require.NoError(t, err)
	defer replay.Close()

	obs, err := replay.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), obs.Timestamp)

	_, err = OpenReplay(filepath.Join(t.TempDir(), "missing.jsonl"), 0, zap.NewNop())
	assert.Error(t, err)
}
