package notify

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"genlock/video"
)

type recorder struct {
	events []string
}

func (r *recorder) CaptureStarted(s video.Stats)     { r.events = append(r.events, "started:"+s.RunID) }
func (r *recorder) TickCompleted(tick, total uint64) { r.events = append(r.events, "tick") }
func (r *recorder) CaptureStopped(s video.Stats)     { r.events = append(r.events, "stopped:"+s.RunID) }
func (r *recorder) FatalError(err error)             { r.events = append(r.events, "fatal:"+err.Error()) }

func TestNotifierFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	n := &Notifier{}
	n.Add(a)
	n.Add(b)

	n.CaptureStarted(video.Stats{RunID: "r1"})
	require.Equal(t, "r1", n.Run())
	n.TickCompleted(1, 1)
	n.CaptureStopped(video.Stats{RunID: "r1"})
	require.Empty(t, n.Run())
	n.FatalError(errors.New("boom"))

	want := []string{"started:r1", "tick", "stopped:r1", "fatal:boom"}
	require.Equal(t, want, a.events)
	require.Equal(t, want, b.events)
}

func newTestHistory(t *testing.T) *History {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.db")), &gorm.Config{})
	require.NoError(t, err)
	h, err := NewHistory(db)
	require.NoError(t, err)
	return h
}

func TestHistoryRecordsCompletedRun(t *testing.T) {
	h := newTestHistory(t)
	started := time.Now()

	h.CaptureStarted(video.Stats{RunID: "run-1", CaptureID: "shot", Started: started})
	r, err := h.Run("run-1")
	require.NoError(t, err)
	require.Equal(t, RunRecording, r.State)
	require.Nil(t, r.StoppedAt)
	require.WithinDuration(t, started, r.StartedAt, time.Second)

	h.TickCompleted(1, 1)
	h.CaptureStopped(video.Stats{
		RunID: "run-1", CaptureID: "shot",
		Ticks: 90, Written: 92, Dropped: 2, Duplicated: 2, Flushes: 3, AudioFrames: 144000,
	})

	r, err = h.Run("run-1")
	require.NoError(t, err)
	require.Equal(t, RunCompleted, r.State)
	require.NotNil(t, r.StoppedAt)
	require.Equal(t, uint64(90), r.Ticks)
	require.Equal(t, uint64(92), r.Written)
	require.Equal(t, uint64(2), r.Duplicated)
	require.Equal(t, 3, r.Flushes)
	require.Equal(t, uint64(144000), r.AudioFrames)
}

func TestHistoryRecordsFailure(t *testing.T) {
	h := newTestHistory(t)

	h.CaptureStarted(video.Stats{RunID: "a", CaptureID: "shot", Started: time.Now()})
	h.CaptureStopped(video.Stats{RunID: "a"})
	h.CaptureStarted(video.Stats{RunID: "b", CaptureID: "shot", Started: time.Now()})
	h.FatalError(errors.New("write frame 00031: disk full"))
	// Without a run in progress there is nothing to mark.
	h.FatalError(errors.New("ignored"))

	runs, err := h.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].RunID)
	require.Equal(t, RunFailed, runs[0].State)
	require.Equal(t, "write frame 00031: disk full", runs[0].Error)
	require.Equal(t, RunCompleted, runs[1].State)

	runs, err = h.Runs(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
