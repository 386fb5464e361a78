package runstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealityreport/trr-app-sub006/internal/refresh"
)

func snap(seq int) refresh.Snapshot {
	return refresh.Snapshot{
		Seq:    seq,
		Phases: []refresh.PhaseState{{ID: "credits", Label: "Credits", Status: refresh.StatusRunning}},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1", Profile: "show", Target: "42"}))

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "show", got.Profile)
	assert.Equal(t, StateRunning, got.State, "state defaults to running")

	// Returned records are copies.
	got.Profile = "mutated"
	again, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "show", again.Profile)
}

func TestCreate_Rejects(t *testing.T) {
	s := New()
	assert.Error(t, s.Create(Record{}))
	require.NoError(t, s.Create(Record{ID: "dup"}))
	assert.Error(t, s.Create(Record{ID: "dup"}))
}

func TestGet_NotFound(t *testing.T) {
	_, err := New().Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, New().Update("missing", func(*Record) {}), ErrNotFound)
	assert.ErrorIs(t, New().Publish("missing", snap(1)), ErrNotFound)
	assert.ErrorIs(t, New().Finish("missing", StateFailed, nil), ErrNotFound)
	_, _, err = New().Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPublish_SnapshotIsolation(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))

	in := snap(1)
	require.NoError(t, s.Publish("r1", in))
	in.Phases[0].Status = refresh.StatusFailed

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Snapshots)
	assert.Equal(t, refresh.StatusRunning, got.Snapshot.Phases[0].Status)

	got.Snapshot.Phases[0].Status = refresh.StatusSkipped
	again, _ := s.Get("r1")
	assert.Equal(t, refresh.StatusRunning, again.Snapshot.Phases[0].Status)
}

func TestSubscribe_ReceivesLatestThenUpdates(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))
	require.NoError(t, s.Publish("r1", snap(1)))

	ch, cancel, err := s.Subscribe("r1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Publish("r1", snap(2)))
	require.NoError(t, s.Finish("r1", StateSucceeded, nil))

	var seqs []int
	timeout := time.After(time.Second)
	for {
		select {
		case sn, ok := <-ch:
			if !ok {
				assert.Equal(t, []int{1, 2}, seqs)
				return
			}
			seqs = append(seqs, sn.Seq)
		case <-timeout:
			t.Fatal("timed out waiting for subscriber channel to close")
		}
	}
}

func TestSubscribe_FinishedRunIsClosed(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))
	require.NoError(t, s.Publish("r1", snap(3)))
	require.NoError(t, s.Finish("r1", StateFailed, func(r *Record) { r.Error = "boom" }))

	ch, cancel, err := s.Subscribe("r1")
	require.NoError(t, err)
	cancel()

	sn, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, 3, sn.Seq)
	_, ok = <-ch
	assert.False(t, ok)

	rec, _ := s.Get("r1")
	assert.Equal(t, "boom", rec.Error)
	assert.NotNil(t, rec.FinishedAt)
}

func TestPublish_IgnoredAfterFinish(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))
	require.NoError(t, s.Publish("r1", snap(1)))
	require.NoError(t, s.Finish("r1", StateSucceeded, nil))
	require.NoError(t, s.Publish("r1", snap(2)))

	rec, _ := s.Get("r1")
	assert.Equal(t, 1, rec.Snapshot.Seq)
	assert.Equal(t, 1, rec.Snapshots)
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))

	ch, cancel, err := s.Subscribe("r1")
	require.NoError(t, err)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe must not panic on the closed channel.
	assert.NoError(t, s.Publish("r1", snap(1)))
	assert.NoError(t, s.Finish("r1", StateSucceeded, nil))
}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	require.NoError(t, s.Create(Record{ID: "r1"}))
	_, cancel, err := s.Subscribe("r1")
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= subscriberBuffer*3; i++ {
			_ = s.Publish("r1", snap(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestList_FilterAndPaginate(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		profile := "show"
		if i%2 == 1 {
			profile = "cast-member"
		}
		require.NoError(t, s.Create(Record{ID: fmt.Sprintf("r%d", i), Profile: profile}))
	}
	require.NoError(t, s.Finish("r0", StateSucceeded, nil))

	all, err := s.List(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 5, all.TotalSize)
	assert.Empty(t, all.NextPageToken)

	shows, err := s.List(Filter{Profile: "show"})
	require.NoError(t, err)
	assert.Equal(t, 3, shows.TotalSize)

	running, err := s.List(Filter{State: StateRunning})
	require.NoError(t, err)
	assert.Equal(t, 4, running.TotalSize)

	page1, err := s.List(Filter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Runs, 2)
	assert.Equal(t, "r0", page1.Runs[0].ID)
	assert.Equal(t, "r1", page1.NextPageToken)

	page2, err := s.List(Filter{PageSize: 2, PageToken: page1.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page2.Runs, 2)
	assert.Equal(t, "r2", page2.Runs[0].ID)
	assert.Equal(t, 5, page2.TotalSize)

	page3, err := s.List(Filter{PageSize: 2, PageToken: page2.NextPageToken})
	require.NoError(t, err)
	require.Len(t, page3.Runs, 1)
	assert.Empty(t, page3.NextPageToken)

	_, err = s.List(Filter{PageToken: "nope"})
	assert.Error(t, err)
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, StateSucceeded, StateFor(refresh.KindNone))
	assert.Equal(t, StateTimedOut, StateFor(refresh.KindTimeout))
	assert.Equal(t, StateCancelled, StateFor(refresh.KindCancelled))
	assert.Equal(t, StateFailed, StateFor(refresh.KindFailed))
	assert.True(t, StateFailed.Finished())
	assert.False(t, StateRunning.Finished())
}

func TestNewID_Unique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
