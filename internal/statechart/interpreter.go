// internal/statechart/interpreter.go
package statechart

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// TaskRunner 决定 Invoke 任务在哪里执行。
// 生产环境用 goroutine；确定性测试用 SyncRunner 让任务内联完成，
// 其结果事件照样要排队，不会打断当前事件的处理。
type TaskRunner interface {
	Go(fn func())
}

type goRunner struct{}

func (goRunner) Go(fn func()) { go fn() }

// GoRunner 返回生产环境的异步运行器。
func GoRunner() TaskRunner { return goRunner{} }

// SyncRunner 同步执行 Invoke 任务，用于确定性测试。
type SyncRunner struct{}

func (SyncRunner) Go(fn func()) { fn() }

// maxChainedTransitions 限制一次事件处理里 Always 直通转移的串联深度，
// 防止图定义错误导致无限循环。
const maxChainedTransitions = 16

type afterFire struct {
	state string
	idx   int
	epoch uint64
}

type invokeResult struct {
	state string
	id    string
	epoch uint64
	data  map[string]any
	err   error
}

type envelope struct {
	init   bool
	stop   bool
	ev     Event
	after  *afterFire
	invoke *invokeResult
}

// Interpreter 以邮箱（mailbox）纪律运行一张状态图：
// 事件严格按 Send 的顺序处理，处理期间到达的事件排队等待，
// 一个事件完全结算后才处理下一个，绝不交叠。
type Interpreter[C any] struct {
	chart  *Chart[C]
	clock  Clock
	runner TaskRunner
	log    zerolog.Logger

	// mu 保护邮箱；smu 保护上下文快照和当前配置的读取
	mu         sync.Mutex
	queue      []envelope
	processing bool
	stopped    bool

	smu  sync.Mutex
	cctx C
	path []*State[C] // 当前活跃配置，root..leaf

	epochs  map[string]uint64
	timers  map[string][]Timer
	invokes map[string]context.CancelFunc

	baseCtx   context.Context
	baseStop  context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
	observers []func(label string, c C)
}

// Option 配置解释器。
type Option[C any] func(*Interpreter[C])

func WithClock[C any](clk Clock) Option[C] {
	return func(it *Interpreter[C]) { it.clock = clk }
}

func WithRunner[C any](r TaskRunner) Option[C] {
	return func(it *Interpreter[C]) { it.runner = r }
}

func WithLogger[C any](l zerolog.Logger) Option[C] {
	return func(it *Interpreter[C]) { it.log = l }
}

// WithObserver 注册转移观察者，在每次配置或上下文变化后被调用。
func WithObserver[C any](fn func(label string, c C)) Option[C] {
	return func(it *Interpreter[C]) { it.observers = append(it.observers, fn) }
}

// New 创建一个解释器。chart 未编译时会先编译。
func New[C any](chart *Chart[C], initial C, opts ...Option[C]) (*Interpreter[C], error) {
	if chart.index == nil {
		if err := chart.Compile(); err != nil {
			return nil, fmt.Errorf("compile chart: %w", err)
		}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	it := &Interpreter[C]{
		chart:    chart,
		clock:    systemClock{},
		runner:   goRunner{},
		log:      zerolog.Nop(),
		cctx:     initial,
		epochs:   make(map[string]uint64),
		timers:   make(map[string][]Timer),
		invokes:  make(map[string]context.CancelFunc),
		baseCtx:  baseCtx,
		baseStop: stop,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(it)
	}
	return it, nil
}

// Start 进入初始状态。入场动作、定时器和 Invoke 由此启动。
func (it *Interpreter[C]) Start() {
	it.push(envelope{init: true})
}

// Send 投递一个外部事件。处理是 run-to-completion 的：
// 若当前正有事件在处理，新事件排队，绝不插队。
func (it *Interpreter[C]) Send(ev Event) {
	it.push(envelope{ev: ev})
}

// Context 返回上下文的只读快照。
func (it *Interpreter[C]) Context() C {
	it.smu.Lock()
	defer it.smu.Unlock()
	return it.cctx
}

// CurrentLabel 返回当前配置对外暴露的状态标签。
func (it *Interpreter[C]) CurrentLabel() string {
	it.smu.Lock()
	defer it.smu.Unlock()
	if len(it.path) == 0 {
		return ""
	}
	return it.path[len(it.path)-1].StatusLabel()
}

// Done 在到达最终状态后关闭。
func (it *Interpreter[C]) Done() <-chan struct{} { return it.done }

// Stop 请求停止解释器。停止和普通事件一样走邮箱：定时器与任务的
// 取消在处理 goroutine 上串行执行，不会和正在处理的事件并发触碰
// 定时器表。到达最终状态时自动停止。以 Done 关闭为完成信号。
func (it *Interpreter[C]) Stop() {
	it.push(envelope{stop: true})
}

// halt 执行真正的停止。只能在处理 goroutine 上调用。
func (it *Interpreter[C]) halt() {
	it.mu.Lock()
	if it.stopped {
		it.mu.Unlock()
		return
	}
	it.stopped = true
	it.queue = nil
	it.mu.Unlock()

	it.cancelAll()
	it.baseStop()
	it.doneOnce.Do(func() { close(it.done) })
}

func (it *Interpreter[C]) push(env envelope) {
	it.mu.Lock()
	if it.stopped {
		it.mu.Unlock()
		return
	}
	it.queue = append(it.queue, env)
	if it.processing {
		it.mu.Unlock()
		return
	}
	it.processing = true
	it.mu.Unlock()
	it.drain()
}

func (it *Interpreter[C]) drain() {
	for {
		it.mu.Lock()
		if it.stopped || len(it.queue) == 0 {
			it.processing = false
			it.mu.Unlock()
			return
		}
		env := it.queue[0]
		it.queue = it.queue[1:]
		it.mu.Unlock()

		it.process(env)
	}
}

func (it *Interpreter[C]) process(env envelope) {
	switch {
	case env.stop:
		it.halt()

	case env.init:
		target := it.chart.index[it.chart.Initial]
		it.enter(target, Event{Name: "statechart.init"}, nil)

	case env.after != nil:
		st, ok := it.chart.index[env.after.state]
		if !ok || !it.active(st) || it.epochs[st.id] != env.after.epoch {
			return // 宿主状态已退出，过期触发被丢弃
		}
		def := st.After[env.after.idx]
		it.enter(it.chart.index[def.Target], Event{Name: "statechart.after." + st.id}, def.Actions)

	case env.invoke != nil:
		st, ok := it.chart.index[env.invoke.state]
		if !ok || !it.active(st) || it.epochs[st.id] != env.invoke.epoch {
			return
		}
		var ev Event
		var candidates []Transition[C]
		if env.invoke.err != nil {
			ev = Event{Name: "error.invoke." + env.invoke.id, Data: map[string]any{"error": env.invoke.err.Error()}}
			candidates = st.Invoke.OnError
		} else {
			ev = Event{Name: "done.invoke." + env.invoke.id, Data: env.invoke.data}
			candidates = st.Invoke.OnDone
		}
		it.fireFirst(candidates, ev)

	default:
		// 从叶子向根冒泡，第一个放行的转移生效
		for i := len(it.path) - 1; i >= 0; i-- {
			st := it.path[i]
			if ts, ok := st.On[env.ev.Name]; ok {
				if it.fireFirst(ts, env.ev) {
					return
				}
			}
		}
		it.log.Debug().Str("event", env.ev.Name).Msg("event not handled by current configuration")
	}
}

// fireFirst 在候选转移里选第一条守卫放行的执行，返回是否有转移生效。
func (it *Interpreter[C]) fireFirst(ts []Transition[C], ev Event) bool {
	snap := it.Context()
	for i := range ts {
		t := &ts[i]
		ok, err := t.allows(snap, ev)
		if err != nil {
			it.log.Error().Err(err).Str("event", ev.Name).Msg("guard evaluation failed, treated as false")
			continue
		}
		if !ok {
			continue
		}
		if t.Target == "" {
			it.runActions(t.Actions, ev)
			it.notify()
			return true
		}
		it.enter(it.chart.index[t.Target], ev, t.Actions)
		return true
	}
	return false
}

// enter 执行一次完整的状态转移：退出到公共祖先、执行转移动作、
// 进入目标链并下钻到初始叶子，随后评估 Always 直通转移。
func (it *Interpreter[C]) enter(target *State[C], ev Event, actions []Action[C]) {
	for hops := 0; ; hops++ {
		if hops > maxChainedTransitions {
			it.log.Error().Str("state", target.id).Msg("transition chain exceeded limit, stopping interpreter")
			it.halt()
			return
		}

		oldPath := it.path
		targetChain := ancestry(target)

		// 公共祖先：oldPath 与 targetChain 的最长公共前缀
		lca := -1
		for i := 0; i < len(oldPath) && i < len(targetChain); i++ {
			if oldPath[i] != targetChain[i] {
				break
			}
			lca = i
		}

		// 退出：旧配置里 LCA 之下的所有状态，自叶向上
		for i := len(oldPath) - 1; i > lca; i-- {
			it.exitState(oldPath[i])
		}

		it.runActions(actions, ev)

		// 进入：targetChain 里 LCA 之下的所有状态，自上而下，随后按 Initial 下钻
		newPath := append([]*State[C]{}, targetChain[:lca+1]...)
		for i := lca + 1; i < len(targetChain); i++ {
			newPath = append(newPath, targetChain[i])
			it.enterState(targetChain[i], ev)
		}
		for leaf := newPath[len(newPath)-1]; leaf.Initial != ""; {
			child := leaf.States[leaf.Initial]
			newPath = append(newPath, child)
			it.enterState(child, ev)
			leaf = child
		}

		it.smu.Lock()
		it.path = newPath
		it.smu.Unlock()

		leaf := newPath[len(newPath)-1]
		it.log.Debug().Str("event", ev.Name).Str("state", leaf.id).Msg("transition")
		it.notify()

		if leaf.Final {
			it.halt()
			return
		}

		// Always 直通转移：对新配置自叶向根求值
		next, nextActions, nev, fired := it.pickAlways()
		if !fired {
			return
		}
		target, ev, actions = next, nev, nextActions
	}
}

func (it *Interpreter[C]) pickAlways() (*State[C], []Action[C], Event, bool) {
	snap := it.Context()
	for i := len(it.path) - 1; i >= 0; i-- {
		st := it.path[i]
		for j := range st.Always {
			t := &st.Always[j]
			ok, err := t.allows(snap, Event{Name: "statechart.always"})
			if err != nil {
				it.log.Error().Err(err).Msg("always guard evaluation failed, treated as false")
				continue
			}
			if ok {
				return it.chart.index[t.Target], t.Actions, Event{Name: "statechart.always"}, true
			}
		}
	}
	return nil, nil, Event{}, false
}

func (it *Interpreter[C]) enterState(st *State[C], ev Event) {
	it.epochs[st.id]++
	epoch := it.epochs[st.id]

	it.runActions(st.Entry, ev)

	for idx := range st.After {
		idx := idx
		fire := afterFire{state: st.id, idx: idx, epoch: epoch}
		timer := it.clock.ScheduleAfter(st.After[idx].Delay, func() {
			it.push(envelope{after: &fire})
		})
		it.timers[st.id] = append(it.timers[st.id], timer)
	}

	if st.Invoke != nil {
		it.startInvoke(st, epoch)
	}
}

func (it *Interpreter[C]) exitState(st *State[C]) {
	it.epochs[st.id]++
	for _, t := range it.timers[st.id] {
		t.Cancel()
	}
	delete(it.timers, st.id)
	if cancel, ok := it.invokes[st.id]; ok {
		cancel()
		delete(it.invokes, st.id)
	}
}

func (it *Interpreter[C]) startInvoke(st *State[C], epoch uint64) {
	inv := st.Invoke
	cctx, cancel := context.WithCancel(it.baseCtx)
	it.invokes[st.id] = cancel
	snap := it.Context()

	it.runner.Go(func() {
		data, err := inv.Task(cctx, snap)
		if cctx.Err() != nil {
			return // 宿主状态已退出，结果作废
		}
		it.push(envelope{invoke: &invokeResult{state: st.id, id: inv.ID, epoch: epoch, data: data, err: err}})
	})
}

func (it *Interpreter[C]) runActions(actions []Action[C], ev Event) {
	if len(actions) == 0 {
		return
	}
	it.smu.Lock()
	for _, a := range actions {
		a(&it.cctx, ev)
	}
	it.smu.Unlock()
}

func (it *Interpreter[C]) active(st *State[C]) bool {
	for _, s := range it.path {
		if s == st {
			return true
		}
	}
	return false
}

func (it *Interpreter[C]) cancelAll() {
	for id, ts := range it.timers {
		for _, t := range ts {
			t.Cancel()
		}
		delete(it.timers, id)
	}
	for id, cancel := range it.invokes {
		cancel()
		delete(it.invokes, id)
	}
}

func (it *Interpreter[C]) notify() {
	label := it.CurrentLabel()
	snap := it.Context()
	for _, fn := range it.observers {
		fn(label, snap)
	}
}

func ancestry[C any](st *State[C]) []*State[C] {
	var chain []*State[C]
	for cur := st; cur != nil; cur = cur.parent {
		chain = append([]*State[C]{cur}, chain...)
	}
	return chain
}
