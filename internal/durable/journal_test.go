// internal/durable/journal_test.go
package durable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfil/internal/statechart"
)

func TestJournalAppendAssignsIDs(t *testing.T) {
	j := NewJournal()

	e1 := j.Append(t0, statechart.Event{Name: "first"})
	e2 := j.Append(t0.Add(time.Second), statechart.Event{Name: "second"})

	require.NotEmpty(t, e1.ID)
	require.NotEmpty(t, e2.ID)
	assert.NotEqual(t, e1.ID, e2.ID)

	entries := j.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Event.Name)
	assert.Equal(t, "second", entries[1].Event.Name)
}

func TestJournalEntriesIsSnapshot(t *testing.T) {
	j := NewJournal()
	j.Append(t0, statechart.Event{Name: "first"})

	snap := j.Entries()
	j.Append(t0.Add(time.Second), statechart.Event{Name: "second"})

	assert.Len(t, snap, 1)
	assert.Len(t, j.Entries(), 2)
}

func TestReplayInterleavesTimersAndEvents(t *testing.T) {
	entries := []Entry{
		{At: t0.Add(3 * time.Second), Event: statechart.Event{Name: "ev1"}},
		{At: t0.Add(10 * time.Second), Event: statechart.Event{Name: "ev2"}},
	}

	clk := NewLogicalClock(t0)
	var order []string
	clk.AfterFunc(time.Second, func() { order = append(order, "timer@1s") })
	clk.AfterFunc(5*time.Second, func() { order = append(order, "timer@5s") })

	Replay(clk, func(ev statechart.Event) { order = append(order, ev.Name) }, entries)

	// 定时器按记录时刻插入事件之间，交织顺序可复现
	assert.Equal(t, []string{"timer@1s", "ev1", "timer@5s", "ev2"}, order)
	assert.Equal(t, t0.Add(10*time.Second), clk.Now())
}
