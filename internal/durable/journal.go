// internal/durable/journal.go
package durable

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"fulfil/internal/statechart"
)

// Entry 是事件历史里的一条记录：某个外部事件在某个逻辑时刻被投递。
type Entry struct {
	ID    string           `json:"id"`
	At    time.Time        `json:"at"`
	Event statechart.Event `json:"event"`
}

// Journal 记录一个 saga 实例收到的全部外部事件。
// 它是崩溃恢复的依据：同一份历史重放必须产生相同的决策序列。
type Journal struct {
	mu      sync.Mutex
	entries []Entry
}

func NewJournal() *Journal { return &Journal{} }

// Append 记录一个外部事件及其投递时刻。
func (j *Journal) Append(at time.Time, ev statechart.Event) Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	e := Entry{ID: uuid.NewString(), At: at, Event: ev}
	j.entries = append(j.entries, e)
	return e
}

// Entries 返回历史快照。
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Replay 把一段事件历史按记录的逻辑时刻重新投递。
// clk 必须是驱动目标解释器的同一个逻辑时钟：AdvanceTo 让两次投递之间
// 该触发的定时器先触发，从而复现与首次执行相同的交织顺序；已经在历史
// 时刻之前到期的定时器不会产生新的物理等待。
func Replay(clk *LogicalClock, send func(statechart.Event), entries []Entry) {
	for _, e := range entries {
		clk.AdvanceTo(e.At)
		send(e.Event)
	}
}
