package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/logging"
	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

// fakeBuilder maps phase ids to canned work functions.
type fakeBuilder struct {
	work map[string]refresh.WorkFunc
}

func (f fakeBuilder) Phases(p config.Profile, target string) []refresh.Phase {
	out := make([]refresh.Phase, 0, len(p.Phases))
	for _, def := range p.Phases {
		work := f.work[def.ID]
		if work == nil {
			work = func(context.Context, refresh.ReportFunc) (refresh.Outcome, error) { return refresh.Outcome{}, nil }
		}
		out = append(out, refresh.Phase{ID: def.ID, Label: def.Label, Timeout: def.Timeout(), Work: work})
	}
	return out
}

func castProfile() map[string]config.Profile {
	return map[string]config.Profile{
		"cast-member": {
			Label: "Refresh cast member",
			Phases: []config.Phase{
				{ID: "credits", Label: "Credits", Path: "/c", TimeoutMs: 1000, Topic: "people"},
				{ID: "photos", Label: "Photos", Path: "/p", TimeoutMs: 1000, Topic: "media"},
			},
		},
		"show": {
			Label:  "Refresh show",
			Phases: []config.Phase{{ID: "show_metadata", Label: "Show metadata", Path: "/s"}},
		},
	}
}

func waitFor(t *testing.T, svc *Service, id string) *runstore.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec, err := svc.Wait(ctx, id)
	require.NoError(t, err, "run did not finish in time")
	return rec
}

func TestStart_Succeeds(t *testing.T) {
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"credits": func(ctx context.Context, report refresh.ReportFunc) (refresh.Outcome, error) {
				report(refresh.Step(1, 2, "Syncing credits"))
				report(refresh.Step(2, 2, "Synced credits"))
				return refresh.Outcome{}, nil
			},
		}},
	})

	id, err := svc.Start(context.Background(), "cast-member", " nm42 ")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec := waitFor(t, svc, id)
	assert.Equal(t, runstore.StateSucceeded, rec.State)
	assert.Equal(t, "nm42", rec.Target)
	assert.Empty(t, rec.Error)
	require.NotNil(t, rec.FinishedAt)

	// pending, credits running, 2 reports, credits done, photos running, photos done.
	assert.Equal(t, 7, rec.Snapshots)
	assert.Equal(t, 7, rec.Snapshot.Seq)
	for _, ph := range rec.Snapshot.Phases {
		assert.Equal(t, refresh.StatusCompleted, ph.Status, ph.ID)
	}

	require.Len(t, rec.Rows, 2)
	assert.Equal(t, progress.TopicPeople, rec.Rows[0].Topic)
	assert.Equal(t, progress.RowDone, rec.Rows[0].State)
	assert.Equal(t, "Credits complete", rec.Rows[0].Message)
	assert.Equal(t, progress.TopicMedia, rec.Rows[1].Topic)
	assert.Equal(t, progress.RowDone, rec.Rows[1].State)
	assert.NotEmpty(t, rec.Lines)
}

func TestStart_Rejects(t *testing.T) {
	svc := New(Options{Profiles: castProfile(), Builder: fakeBuilder{}})

	_, err := svc.Start(context.Background(), "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = svc.Start(context.Background(), "show", "  ")
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestStart_OutlivesRequestContext(t *testing.T) {
	release := make(chan struct{})
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"show_metadata": func(ctx context.Context, _ refresh.ReportFunc) (refresh.Outcome, error) {
				select {
				case <-release:
					return refresh.Outcome{}, nil
				case <-ctx.Done():
					return refresh.Outcome{}, ctx.Err()
				}
			},
		}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	id, err := svc.Start(ctx, "show", "7")
	require.NoError(t, err)
	cancel()
	close(release)

	rec := waitFor(t, svc, id)
	assert.Equal(t, runstore.StateSucceeded, rec.State)
}

func TestRun_FailureRecorded(t *testing.T) {
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"credits": func(context.Context, refresh.ReportFunc) (refresh.Outcome, error) {
				return refresh.Outcome{}, errors.New("Credits failed: backend returned 502: TMDb unavailable")
			},
		}},
	})

	id, err := svc.Start(context.Background(), "cast-member", "nm1")
	require.NoError(t, err)
	rec := waitFor(t, svc, id)

	assert.Equal(t, runstore.StateFailed, rec.State)
	assert.Equal(t, refresh.KindFailed, rec.ErrorKind)
	assert.Equal(t, "Credits failed: backend returned 502: TMDb unavailable", rec.Error)
	photos, ok := rec.Snapshot.Phase("photos")
	require.True(t, ok)
	assert.Equal(t, refresh.StatusPending, photos.Status)

	require.Len(t, rec.Rows, 1)
	assert.Equal(t, progress.RowFailed, rec.Rows[0].State)
	assert.Equal(t, rec.Error, rec.Rows[0].Message)
}

func TestRun_FailureAfterFullCountIsNotDone(t *testing.T) {
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"credits": func(_ context.Context, report refresh.ReportFunc) (refresh.Outcome, error) {
				report(refresh.Step(10, 10, "Synced 10 credits"))
				return refresh.Outcome{}, errors.New("credits failed: write rejected")
			},
		}},
	})

	id, err := svc.Start(context.Background(), "cast-member", "nm1")
	require.NoError(t, err)
	rec := waitFor(t, svc, id)

	assert.Equal(t, runstore.StateFailed, rec.State)
	require.Len(t, rec.Rows, 1)
	assert.Equal(t, progress.TopicPeople, rec.Rows[0].Topic)
	assert.Equal(t, progress.RowFailed, rec.Rows[0].State)
	assert.Equal(t, "credits failed: write rejected", rec.Rows[0].Message)
	assert.Nil(t, rec.Rows[0].Current)
}

func TestRun_SkippedPhaseSettlesRow(t *testing.T) {
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"credits": func(context.Context, refresh.ReportFunc) (refresh.Outcome, error) {
				return refresh.Skipped("no credits to sync"), nil
			},
		}},
	})

	id, err := svc.Start(context.Background(), "cast-member", "nm1")
	require.NoError(t, err)
	rec := waitFor(t, svc, id)

	assert.Equal(t, runstore.StateSucceeded, rec.State)
	require.Len(t, rec.Rows, 2)
	assert.Equal(t, progress.TopicPeople, rec.Rows[0].Topic)
	assert.Equal(t, progress.RowSkipped, rec.Rows[0].State)
	assert.Equal(t, "no credits to sync", rec.Rows[0].Message)
	assert.Equal(t, progress.RowDone, rec.Rows[1].State)
}

func TestRun_TimeoutRecorded(t *testing.T) {
	profiles := map[string]config.Profile{
		"quick": {Phases: []config.Phase{{ID: "slow", Label: "Slow", Path: "/s", TimeoutMs: 5}}},
	}
	svc := New(Options{
		Profiles: profiles,
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"slow": func(ctx context.Context, _ refresh.ReportFunc) (refresh.Outcome, error) {
				<-ctx.Done()
				return refresh.Outcome{}, ctx.Err()
			},
		}},
	})

	id, err := svc.Start(context.Background(), "quick", "x")
	require.NoError(t, err)
	rec := waitFor(t, svc, id)

	assert.Equal(t, runstore.StateTimedOut, rec.State)
	assert.Equal(t, refresh.KindTimeout, rec.ErrorKind)
	assert.Equal(t, "Slow timed out after 0.005s", rec.Error)
}

func blockingProfile() (map[string]config.Profile, fakeBuilder, chan struct{}) {
	started := make(chan struct{})
	profiles := map[string]config.Profile{
		"block": {Phases: []config.Phase{{ID: "wait", Label: "Wait", Path: "/w"}}},
	}
	builder := fakeBuilder{work: map[string]refresh.WorkFunc{
		"wait": func(ctx context.Context, _ refresh.ReportFunc) (refresh.Outcome, error) {
			close(started)
			<-ctx.Done()
			return refresh.Outcome{}, ctx.Err()
		},
	}}
	return profiles, builder, started
}

func TestCancel(t *testing.T) {
	profiles, builder, started := blockingProfile()
	svc := New(Options{Profiles: profiles, Builder: builder})

	id, err := svc.Start(context.Background(), "block", "x")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("phase never started")
	}
	require.NoError(t, svc.Cancel(id))

	rec := waitFor(t, svc, id)
	assert.Equal(t, runstore.StateCancelled, rec.State)
	assert.Equal(t, refresh.KindCancelled, rec.ErrorKind)
	assert.Contains(t, rec.Error, "cancelled by request")

	assert.ErrorIs(t, svc.Cancel(id), ErrNotRunning)
	assert.ErrorIs(t, svc.Cancel("missing"), runstore.ErrNotFound)
}

func TestShutdown(t *testing.T) {
	profiles, builder, started := blockingProfile()
	svc := New(Options{Profiles: profiles, Builder: builder})

	id, err := svc.Start(context.Background(), "block", "x")
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	rec, err := svc.Get(id)
	require.NoError(t, err)
	assert.Equal(t, runstore.StateCancelled, rec.State)

	_, err = svc.Start(context.Background(), "block", "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWait_ContextExpires(t *testing.T) {
	profiles, builder, _ := blockingProfile()
	svc := New(Options{Profiles: profiles, Builder: builder})
	id, err := svc.Start(context.Background(), "block", "x")
	require.NoError(t, err)
	defer func() { _ = svc.Cancel(id) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = svc.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribe_SeesEverySnapshotInOrder(t *testing.T) {
	release := make(chan struct{})
	svc := New(Options{
		Profiles: castProfile(),
		Builder: fakeBuilder{work: map[string]refresh.WorkFunc{
			"credits": func(ctx context.Context, report refresh.ReportFunc) (refresh.Outcome, error) {
				<-release
				report(refresh.Note("halfway"))
				return refresh.Outcome{}, nil
			},
		}},
	})

	id, err := svc.Start(context.Background(), "cast-member", "x")
	require.NoError(t, err)
	ch, unsubscribe, err := svc.Store().Subscribe(id)
	require.NoError(t, err)
	defer unsubscribe()
	close(release)

	var last int
	timeout := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				assert.Equal(t, 6, last)
				return
			}
			assert.Greater(t, snap.Seq, last)
			last = snap.Seq
		case <-timeout:
			t.Fatal("subscription never closed")
		}
	}
}

func TestProfiles(t *testing.T) {
	svc := New(Options{Profiles: castProfile(), Builder: fakeBuilder{}})
	got := svc.Profiles()
	require.Len(t, got, 2)
	assert.Equal(t, "cast-member", got[0].Name)
	assert.Equal(t, []string{"credits", "photos"}, got[0].Phases)
	assert.Equal(t, "show", got[1].Name)
}

func TestNew_DefaultsToProcessLogger(t *testing.T) {
	l, err := logging.Init(logging.Options{Level: "debug", Output: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = logging.Init(logging.Options{Level: "error", Output: io.Discard}) })

	svc := New(Options{Profiles: castProfile(), Builder: fakeBuilder{}})
	assert.Same(t, l, svc.logger)
}

func TestObserver_LogsStoreErrors(t *testing.T) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	obs := newObserver("gone", config.Profile{}, runstore.New(), 0, zap.New(core))

	obs.observe(refresh.Snapshot{Seq: 3})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "service: publish snapshot", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["seq"])
	assert.Equal(t, "service: update board", entries[1].Message)
	for _, e := range entries {
		assert.Equal(t, zapcore.DebugLevel, e.Level)
		assert.Equal(t, "gone", e.ContextMap()["run"])
	}
}

func TestEntryFor(t *testing.T) {
	msg := "Mirroring 3 photos"
	reason := "no photos to mirror"
	running := refresh.PhaseState{ID: "photos", Label: "Photos", Status: refresh.StatusRunning}
	withMsg := running
	withMsg.Progress.Message = &msg

	completed := refresh.PhaseState{ID: "photos", Label: "Photos", Status: refresh.StatusCompleted}
	skipped := refresh.PhaseState{ID: "photos", Label: "Photos", Status: refresh.StatusSkipped}
	skippedWithReason := skipped
	skippedWithReason.Progress.Message = &reason
	timedOut := refresh.PhaseState{ID: "photos", Label: "Photos", Status: refresh.StatusTimedOut, Error: "Photos timed out after 1s"}
	failedAtTotal := refresh.PhaseState{ID: "photos", Label: "Photos", Status: refresh.StatusFailed, Error: "Photos failed: write rejected"}
	failedAtTotal.Progress.Current = intp(10)
	failedAtTotal.Progress.Total = intp(10)

	tests := []struct {
		name   string
		before refresh.PhaseState
		seen   bool
		after  refresh.PhaseState
		want   string
		settle progress.RowState
		ok     bool
	}{
		{name: "pending", after: refresh.PhaseState{ID: "photos", Status: refresh.StatusPending}},
		{name: "started", after: running, want: "Photos started", ok: true},
		{name: "unchanged", before: running, seen: true, after: running},
		{name: "progress", before: running, seen: true, after: withMsg, want: msg, ok: true},
		{name: "completed", before: withMsg, seen: true, after: completed, want: "Photos complete", settle: progress.RowDone, ok: true},
		{name: "skipped", before: running, seen: true, after: skipped, want: "Photos skipped", settle: progress.RowSkipped, ok: true},
		{name: "skipped with reason", before: running, seen: true, after: skippedWithReason, want: reason, settle: progress.RowSkipped, ok: true},
		{name: "timed out", before: running, seen: true, after: timedOut, want: "Photos timed out after 1s", settle: progress.RowFailed, ok: true},
		{name: "failed at total", before: running, seen: true, after: failedAtTotal, want: "Photos failed: write rejected", settle: progress.RowFailed, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, settle, ok := entryFor(tt.before, tt.seen, tt.after, "media")
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.want, e.Message)
			assert.Equal(t, tt.settle, settle)
			assert.Equal(t, "media", e.Topic)
			assert.Equal(t, "photos", e.StageKey)
			if settle == progress.RowFailed {
				assert.Nil(t, e.Current)
				assert.Nil(t, e.Total)
				assert.False(t, progress.IsTerminalSuccess(e))
			}
		})
	}
}

func intp(v int) *int { return &v }
