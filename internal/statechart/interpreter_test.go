// internal/statechart/interpreter_test.go
package statechart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCtx struct {
	Trail []string
	N     int
}

func record(step string) Action[testCtx] {
	return func(c *testCtx, ev Event) { c.Trail = append(c.Trail, step) }
}

// testClock 手工触发的时钟，测试里用它代替真实定时器。
type testClock struct {
	mu     sync.Mutex
	timers []*testTimer
}

type testTimer struct {
	delay     time.Duration
	fn        func()
	cancelled bool
	fired     bool
}

func (c *testClock) ScheduleAfter(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &testTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *testTimer) Cancel() {
	t.cancelled = true
}

// fire 触发所有延时不超过 d 且未取消、未触发过的定时器。
func (c *testClock) fire(d time.Duration) {
	c.mu.Lock()
	pending := append([]*testTimer{}, c.timers...)
	c.mu.Unlock()
	for _, t := range pending {
		if !t.cancelled && !t.fired && t.delay <= d {
			t.fired = true
			t.fn()
		}
	}
}

func workChart(task func(ctx context.Context, c testCtx) (map[string]any, error)) *Chart[testCtx] {
	return &Chart[testCtx]{
		ID:      "work",
		Initial: "IDLE",
		States: map[string]*State[testCtx]{
			"IDLE": {
				Entry: []Action[testCtx]{record("idle")},
				On: map[string][]Transition[testCtx]{
					"start": {
						{Target: "WORK", Cond: `data.ok == true`},
						{Target: "FAILED", Cond: `data.ok == false`},
					},
				},
			},
			"WORK": {
				Label:   "WORKING",
				Initial: "PREP",
				Entry:   []Action[testCtx]{record("work")},
				After: []After[testCtx]{
					{Delay: 5 * time.Second, Target: "EXPIRED"},
				},
				On: map[string][]Transition[testCtx]{
					"abort": {{Target: "FAILED"}},
				},
				States: map[string]*State[testCtx]{
					"PREP": {
						Entry: []Action[testCtx]{record("prep")},
						After: []After[testCtx]{
							{Delay: time.Second, Target: "RUN"},
						},
					},
					"RUN": {
						Entry: []Action[testCtx]{record("run")},
						Invoke: &Invoke[testCtx]{
							ID:   "task",
							Task: task,
							OnDone: []Transition[testCtx]{
								{Target: "DONE", Cond: `data.success == true`},
								{Target: "FAILED", Cond: `data.success == false`},
							},
							OnError: []Transition[testCtx]{{Target: "FAILED"}},
						},
						On: map[string][]Transition[testCtx]{
							"back": {{Target: "PREP"}},
						},
					},
				},
			},
			"DONE":    {Final: true},
			"FAILED":  {Final: true},
			"EXPIRED": {Final: true},
		},
	}
}

func okTask(ctx context.Context, c testCtx) (map[string]any, error) {
	return map[string]any{"success": true}, nil
}

func newTestInterp(t *testing.T, chart *Chart[testCtx], clk *testClock) *Interpreter[testCtx] {
	t.Helper()
	it, err := New(chart, testCtx{},
		WithClock[testCtx](clk),
		WithRunner[testCtx](SyncRunner{}))
	require.NoError(t, err)
	return it
}

func TestInterpreterEntersInitialState(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()

	assert.Equal(t, "IDLE", it.CurrentLabel())
	assert.Equal(t, []string{"idle"}, it.Context().Trail)
}

func TestInterpreterCELGuardsSelectBranch(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()

	it.Send(Event{Name: "start", Data: map[string]any{"ok": false}})

	assert.Equal(t, "FAILED", it.CurrentLabel())
	select {
	case <-it.Done():
	default:
		t.Fatal("final state should close Done")
	}
}

func TestInterpreterCompositeEntryAndLabel(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()

	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})

	// 进入复合态后下钻到初始子状态，对外标签取父状态的 Label
	assert.Equal(t, "WORKING", it.CurrentLabel())
	assert.Equal(t, []string{"idle", "work", "prep"}, it.Context().Trail)
}

func TestInterpreterAfterTimerDrivesTransition(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})

	clk.fire(time.Second)

	// PREP 的定时器触发进入 RUN，Invoke 同步完成后走 OnDone
	assert.Equal(t, "DONE", it.CurrentLabel())
	assert.Equal(t, []string{"idle", "work", "prep", "run"}, it.Context().Trail)
}

func TestInterpreterStaleTimerFireIsDiscarded(t *testing.T) {
	// 任务挂起，让解释器停在 RUN；Stop 取消任务上下文后任务退出
	hang := func(ctx context.Context, c testCtx) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	clk := &testClock{}
	chart := workChart(hang)
	it, err := New(chart, testCtx{}, WithClock[testCtx](clk))
	require.NoError(t, err)

	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})

	clk.mu.Lock()
	prepTimer := clk.timers[1] // WORK 的 5s 定时器先注册，PREP 的 1s 在后
	clk.mu.Unlock()
	require.Equal(t, time.Second, prepTimer.delay)

	prepTimer.fn()
	require.Equal(t, "WORKING", it.CurrentLabel())

	it.Send(Event{Name: "back", Data: nil})

	// 旧 PREP 纪元的定时器再触发一次：必须被丢弃，不产生第二次转移
	prepTimer.fn()
	assert.Equal(t, []string{"idle", "work", "prep", "run", "prep"}, it.Context().Trail)
	it.Stop()
}

func TestInterpreterExitCancelsCompositeTimer(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})
	clk.fire(time.Second) // → DONE

	clk.mu.Lock()
	var expireTimer *testTimer
	for _, tm := range clk.timers {
		if tm.delay == 5*time.Second {
			expireTimer = tm
		}
	}
	clk.mu.Unlock()
	require.NotNil(t, expireTimer)
	assert.True(t, expireTimer.cancelled, "leaving WORK must cancel its deadline timer")
}

func TestInterpreterInvokeErrorPath(t *testing.T) {
	failing := func(ctx context.Context, c testCtx) (map[string]any, error) {
		return nil, errors.New("boom")
	}
	clk := &testClock{}
	it := newTestInterp(t, workChart(failing), clk)
	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})
	clk.fire(time.Second)

	assert.Equal(t, "FAILED", it.CurrentLabel())
}

func TestInterpreterRunToCompletion(t *testing.T) {
	// 入场动作里再投递事件：必须排队，等当前事件结算后才处理
	chart := &Chart[testCtx]{
		ID:      "rtc",
		Initial: "A",
		States: map[string]*State[testCtx]{
			"A": {
				On: map[string][]Transition[testCtx]{"go": {{Target: "B"}}},
			},
			"B": {
				On: map[string][]Transition[testCtx]{"next": {{Target: "C"}}},
			},
			"C": {Final: true},
		},
	}
	var it *Interpreter[testCtx]
	chart.States["B"].Entry = []Action[testCtx]{
		record("b"),
		func(c *testCtx, ev Event) { it.Send(Event{Name: "next"}) },
	}

	var err error
	it, err = New(chart, testCtx{}, WithRunner[testCtx](SyncRunner{}))
	require.NoError(t, err)
	it.Start()
	it.Send(Event{Name: "go"})

	assert.Equal(t, "C", it.CurrentLabel())
}

func TestInterpreterAlwaysChains(t *testing.T) {
	chart := &Chart[testCtx]{
		ID:      "chain",
		Initial: "A",
		States: map[string]*State[testCtx]{
			"A": {
				On: map[string][]Transition[testCtx]{"go": {{Target: "B"}}},
			},
			"B": {
				Entry:  []Action[testCtx]{record("b")},
				Always: []Transition[testCtx]{{Target: "C"}},
			},
			"C": {
				Entry:  []Action[testCtx]{record("c")},
				Always: []Transition[testCtx]{{Target: "D"}},
			},
			"D": {Final: true},
		},
	}
	it, err := New(chart, testCtx{}, WithRunner[testCtx](SyncRunner{}))
	require.NoError(t, err)
	it.Start()
	it.Send(Event{Name: "go"})

	assert.Equal(t, "D", it.CurrentLabel())
	assert.Equal(t, []string{"b", "c"}, it.Context().Trail)
}

func TestInterpreterObserverSeesEveryTransition(t *testing.T) {
	clk := &testClock{}
	var labels []string
	it, err := New(workChart(okTask), testCtx{},
		WithClock[testCtx](clk),
		WithRunner[testCtx](SyncRunner{}),
		WithObserver[testCtx](func(label string, c testCtx) { labels = append(labels, label) }))
	require.NoError(t, err)

	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})
	clk.fire(time.Second)

	assert.Equal(t, []string{"IDLE", "WORKING", "WORKING", "DONE"}, labels)
}

func TestInterpreterIgnoresEventsAfterStop(t *testing.T) {
	clk := &testClock{}
	it := newTestInterp(t, workChart(okTask), clk)
	it.Start()
	it.Send(Event{Name: "start", Data: map[string]any{"ok": false}})
	require.Equal(t, "FAILED", it.CurrentLabel())

	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})
	assert.Equal(t, "FAILED", it.CurrentLabel())
}

// 解释器在持续自驱的 invoke 循环中被外部 goroutine 停止：
// 取消必须与事件处理串行（race 检测下验证定时器表无并发读写）。
func TestInterpreterStopDuringInvokeChurnIsSerialized(t *testing.T) {
	task := func(ctx context.Context, c testCtx) (map[string]any, error) {
		return map[string]any{}, nil
	}
	chart := &Chart[testCtx]{
		ID:      "churn",
		Initial: "A",
		States: map[string]*State[testCtx]{
			"A": {Invoke: &Invoke[testCtx]{ID: "ping", Task: task, OnDone: []Transition[testCtx]{{Target: "B"}}}},
			"B": {Invoke: &Invoke[testCtx]{ID: "pong", Task: task, OnDone: []Transition[testCtx]{{Target: "A"}}}},
		},
	}
	it, err := New(chart, testCtx{})
	require.NoError(t, err)
	it.Start()

	// 让 A⇄B 循环跑起来再停
	time.Sleep(10 * time.Millisecond)
	it.Stop()

	select {
	case <-it.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("interpreter did not stop")
	}

	// 停止后到达的结果和事件都被丢弃
	it.Send(Event{Name: "start", Data: map[string]any{"ok": true}})
}
