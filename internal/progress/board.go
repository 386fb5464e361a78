package progress

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// DefaultMaxLines bounds the log kept by a Board.
const DefaultMaxLines = 200

// RowState is the status-board state of a topic.
type RowState string

const (
	RowActive  RowState = "active"
	RowDone    RowState = "done"
	RowSkipped RowState = "skipped"
	RowFailed  RowState = "failed"
)

// Row is the live status-board row for one topic.
type Row struct {
	Topic     Topic     `json:"topic"`
	State     RowState  `json:"state"`
	Message   string    `json:"message"`
	Current   *int      `json:"current,omitempty"`
	Total     *int      `json:"total,omitempty"`
	Updates   int       `json:"updates"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Line is one appended log line. Topic is empty for entries that did not
// claim a topic.
type Line struct {
	Seq   int       `json:"seq"`
	Topic Topic     `json:"topic,omitempty"`
	Entry Entry     `json:"entry"`
	At    time.Time `json:"at"`
}

// Board turns a stream of entries into a deduplicated log and one row per
// topic. It is safe for concurrent use.
type Board struct {
	mu       sync.Mutex
	maxLines int
	now      func() time.Time

	seq              int
	lines            []Line
	rows             map[Topic]*Row
	last             map[Topic]Entry
	lastUnclassified Entry
	hasUnclassified  bool
	suppressed       int
}

// NewBoard creates a Board that keeps at most maxLines log lines.
// maxLines <= 0 means DefaultMaxLines.
func NewBoard(maxLines int) *Board {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Board{
		maxLines: maxLines,
		now:      time.Now,
		rows:     make(map[Topic]*Row),
		last:     make(map[Topic]Entry),
	}
}

// Append records e. It returns false when e duplicates the previous entry
// for its topic and was suppressed.
func (b *Board) Append(e Entry) (Line, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(e, "")
}

// Settle records e as the final entry of a unit of work and forces its
// topic's row to state, whatever the entry's counts or message say. A
// suppressed duplicate still settles the row.
func (b *Board) Settle(e Entry, state RowState) (Line, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(e, state)
}

func (b *Board) appendLocked(e Entry, settle RowState) (Line, bool) {
	topic, ok := ClassifyTopic(e)
	if ok {
		if prev, seen := b.last[topic]; seen && IsDuplicate(prev, e) {
			b.suppressed++
			if row := b.rows[topic]; row != nil && settle != "" {
				row.State = settle
				row.UpdatedAt = b.now()
			}
			return Line{}, false
		}
	} else if b.hasUnclassified && IsDuplicate(b.lastUnclassified, e) {
		b.suppressed++
		return Line{}, false
	}

	now := b.now()
	b.seq++
	line := Line{Seq: b.seq, Topic: topic, Entry: e, At: now}
	b.lines = append(b.lines, line)
	if over := len(b.lines) - b.maxLines; over > 0 {
		b.lines = append([]Line(nil), b.lines[over:]...)
	}

	if !ok {
		b.lastUnclassified = e
		b.hasUnclassified = true
		return line, true
	}

	b.last[topic] = e
	row := b.rows[topic]
	if row == nil {
		row = &Row{Topic: topic}
		b.rows[topic] = row
	}
	switch {
	case settle != "":
		row.State = settle
	case IsTerminalSuccess(e):
		row.State = RowDone
	default:
		row.State = RowActive
	}
	row.Message = e.Message
	row.Current = copyCount(e.Current)
	row.Total = copyCount(e.Total)
	row.Updates++
	row.UpdatedAt = now
	return line, true
}

// Rows returns the topics seen so far, in Topics order.
func (b *Board) Rows() []Row {
	b.mu.Lock()
	defer b.mu.Unlock()

	present := lo.Filter(Topics, func(t Topic, _ int) bool { return b.rows[t] != nil })
	return lo.Map(present, func(t Topic, _ int) Row { return *b.rows[t] })
}

// Lines returns a copy of the retained log.
func (b *Board) Lines() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Line(nil), b.lines...)
}

// Suppressed returns how many entries were dropped as duplicates.
func (b *Board) Suppressed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suppressed
}

func copyCount(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
