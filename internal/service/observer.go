package service

import (
	"go.uber.org/zap"

	"github.com/therealityreport/trr-app-sub006/internal/config"
	"github.com/therealityreport/trr-app-sub006/internal/progress"
	"github.com/therealityreport/trr-app-sub006/internal/refresh"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
)

// observer receives one run's snapshots. It is only ever called by the
// orchestrator, which serializes calls, so it keeps no lock of its own.
type observer struct {
	id     string
	store  *runstore.Store
	board  *progress.Board
	topics map[string]string
	prev   map[string]refresh.PhaseState
	logger *zap.Logger
}

func newObserver(id string, p config.Profile, store *runstore.Store, maxLines int, logger *zap.Logger) *observer {
	topics := make(map[string]string, len(p.Phases))
	for _, ph := range p.Phases {
		topics[ph.ID] = ph.Topic
	}
	return &observer{
		id:     id,
		store:  store,
		board:  progress.NewBoard(maxLines),
		topics: topics,
		prev:   make(map[string]refresh.PhaseState),
		logger: logger,
	}
}

func (o *observer) observe(snap refresh.Snapshot) {
	for _, ph := range snap.Phases {
		before, seen := o.prev[ph.ID]
		o.prev[ph.ID] = ph
		e, settle, ok := entryFor(before, seen, ph, o.topics[ph.ID])
		if !ok {
			continue
		}
		if settle != "" {
			o.board.Settle(e, settle)
		} else {
			o.board.Append(e)
		}
	}
	if err := o.store.Publish(o.id, snap); err != nil {
		o.logger.Debug("service: publish snapshot", zap.String("run", o.id), zap.Int("seq", snap.Seq), zap.Error(err))
	}
	if err := o.store.Update(o.id, o.fill); err != nil {
		o.logger.Debug("service: update board", zap.String("run", o.id), zap.Error(err))
	}
}

// fill copies the board into r.
func (o *observer) fill(r *runstore.Record) {
	r.Rows = o.board.Rows()
	r.Lines = o.board.Lines()
	r.Suppressed = o.board.Suppressed()
}

// entryFor converts a phase change into a board entry. Pending phases and
// unchanged phases produce nothing. Terminal phases also return the row
// state their topic settles in.
func entryFor(before refresh.PhaseState, seen bool, after refresh.PhaseState, topic string) (progress.Entry, progress.RowState, bool) {
	if after.Status == refresh.StatusPending {
		return progress.Entry{}, "", false
	}
	if seen && before.Status == after.Status && sameProgress(before.Progress, after.Progress) {
		return progress.Entry{}, "", false
	}

	e := progress.Entry{
		Topic:    topic,
		Category: after.Label,
		StageKey: after.ID,
		Current:  after.Progress.Current,
		Total:    after.Progress.Total,
	}
	if after.Progress.Message != nil {
		e.Message = *after.Progress.Message
	}

	var settle progress.RowState
	switch after.Status {
	case refresh.StatusRunning:
		if e.Message == "" {
			e.Message = after.Label + " started"
		}
	case refresh.StatusCompleted:
		e.Message = after.Label + " complete"
		settle = progress.RowDone
	case refresh.StatusSkipped:
		if e.Message == "" {
			e.Message = after.Label + " skipped"
		}
		settle = progress.RowSkipped
	case refresh.StatusFailed, refresh.StatusTimedOut:
		// Counts left at current == total would read as terminal success.
		e.Message = after.Error
		e.Current, e.Total = nil, nil
		settle = progress.RowFailed
	}
	return e, settle, true
}

func sameProgress(a, b refresh.Progress) bool {
	return sameInt(a.Current, b.Current) &&
		sameInt(a.Total, b.Total) &&
		sameString(a.Message, b.Message)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
