// internal/statechart/chart.go
package statechart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Event 是送入解释器的事件。Data 对守卫表达式可见。
type Event struct {
	Name string
	Data map[string]any
}

// Action 在状态进入或转移时同步执行，直接修改上下文。
type Action[C any] func(c *C, ev Event)

// Guard 是 Go 函数形式的守卫。与 Cond 二选一。
type Guard[C any] func(c C, ev Event) bool

// Transition 描述一条由事件驱动的转移。
// Target 为空表示内部转移：只执行 Actions，不离开当前状态。
type Transition[C any] struct {
	Target  string
	Guard   Guard[C]
	Cond    string // CEL 表达式，针对 {data: event.Data} 求值，结果必须是 bool
	Actions []Action[C]

	prg cel.Program
}

// After 描述一条定时自动转移：进入状态 Delay 之后触发。
// 离开状态时对应的计时器会被取消，重新进入会重新计时。
type After[C any] struct {
	Delay   time.Duration
	Target  string
	Actions []Action[C]
}

// Invoke 描述进入状态时启动的异步任务。
// 任务的完成以内部事件（done.invoke.<ID> / error.invoke.<ID>）的形式
// 回到事件队列，保证不会越过 run-to-completion 模型。
// 任务收到的 ctx 在宿主状态退出时被取消。
type Invoke[C any] struct {
	ID      string
	Task    func(ctx context.Context, c C) (map[string]any, error)
	OnDone  []Transition[C]
	OnError []Transition[C]
}

// State 是状态图的一个节点，可以嵌套子状态。
type State[C any] struct {
	// Label 是对外暴露的状态标签；为空时退化为状态 ID。
	// 嵌套子状态可以共享父状态的标签（例如轮询子状态仍然对外显示为父状态）。
	Label string

	Initial string
	States  map[string]*State[C]

	Entry  []Action[C]
	Invoke *Invoke[C]
	After  []After[C]
	On     map[string][]Transition[C]

	// Always 在进入状态后立刻评估，用于无事件的直通转移。
	Always []Transition[C]

	Final bool

	id     string
	parent *State[C]
}

// ID 返回编译期赋予的状态标识。
func (s *State[C]) ID() string { return s.id }

// StatusLabel 返回对外状态标签，沿父链向上找第一个非空 Label。
func (s *State[C]) StatusLabel() string {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.Label != "" {
			return cur.Label
		}
	}
	return s.id
}

// Chart 是一张完整的状态图定义，纯数据，可独立于解释器做单元测试。
type Chart[C any] struct {
	ID      string
	Initial string
	States  map[string]*State[C]

	index map[string]*State[C]
}

// Compile 校验状态图并编译所有 CEL 守卫表达式。
// 状态 ID 在整张图内必须唯一，转移目标可以指向图中任意状态。
func (c *Chart[C]) Compile() error {
	if c.Initial == "" {
		return fmt.Errorf("chart %s: missing initial state", c.ID)
	}

	env, err := cel.NewEnv(cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return fmt.Errorf("chart %s: init cel env: %w", c.ID, err)
	}

	c.index = make(map[string]*State[C])
	if err := c.register(nil, c.States, env); err != nil {
		return err
	}

	// 所有目标必须可解析
	for id, st := range c.index {
		if st.Initial != "" {
			if _, ok := st.States[st.Initial]; !ok {
				return fmt.Errorf("chart %s: state %s: unknown initial substate %s", c.ID, id, st.Initial)
			}
		}
		if len(st.States) > 0 && st.Initial == "" {
			return fmt.Errorf("chart %s: composite state %s has no initial substate", c.ID, id)
		}
		for _, group := range [][]Transition[C]{st.Always} {
			if err := c.checkTargets(id, group); err != nil {
				return err
			}
		}
		for _, ts := range st.On {
			if err := c.checkTargets(id, ts); err != nil {
				return err
			}
		}
		if st.Invoke != nil {
			if st.Invoke.ID == "" || st.Invoke.Task == nil {
				return fmt.Errorf("chart %s: state %s: invoke requires ID and Task", c.ID, id)
			}
			if err := c.checkTargets(id, st.Invoke.OnDone); err != nil {
				return err
			}
			if err := c.checkTargets(id, st.Invoke.OnError); err != nil {
				return err
			}
		}
		for _, a := range st.After {
			if _, ok := c.index[a.Target]; !ok {
				return fmt.Errorf("chart %s: state %s: after-transition to unknown state %s", c.ID, id, a.Target)
			}
		}
	}

	if _, ok := c.index[c.Initial]; !ok {
		return fmt.Errorf("chart %s: unknown initial state %s", c.ID, c.Initial)
	}
	return nil
}

func (c *Chart[C]) register(parent *State[C], states map[string]*State[C], env *cel.Env) error {
	for id, st := range states {
		if _, dup := c.index[id]; dup {
			return fmt.Errorf("chart %s: duplicate state id %s", c.ID, id)
		}
		st.id = id
		st.parent = parent
		c.index[id] = st

		for name := range st.On {
			if err := compileGuards(env, st.On[name]); err != nil {
				return fmt.Errorf("chart %s: state %s on %s: %w", c.ID, id, name, err)
			}
		}
		if err := compileGuards(env, st.Always); err != nil {
			return fmt.Errorf("chart %s: state %s always: %w", c.ID, id, err)
		}
		if st.Invoke != nil {
			if err := compileGuards(env, st.Invoke.OnDone); err != nil {
				return fmt.Errorf("chart %s: state %s invoke onDone: %w", c.ID, id, err)
			}
			if err := compileGuards(env, st.Invoke.OnError); err != nil {
				return fmt.Errorf("chart %s: state %s invoke onError: %w", c.ID, id, err)
			}
		}

		if len(st.States) > 0 {
			if err := c.register(st, st.States, env); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Chart[C]) checkTargets(from string, ts []Transition[C]) error {
	for i := range ts {
		if ts[i].Target == "" {
			continue
		}
		if _, ok := c.index[ts[i].Target]; !ok {
			return fmt.Errorf("chart %s: state %s: transition to unknown state %s", c.ID, from, ts[i].Target)
		}
	}
	return nil
}

func compileGuards[C any](env *cel.Env, ts []Transition[C]) error {
	for i := range ts {
		t := &ts[i]
		if t.Cond == "" {
			continue
		}
		if t.Guard != nil {
			return fmt.Errorf("transition %d: Guard and Cond are mutually exclusive", i)
		}
		ast, iss := env.Compile(t.Cond)
		if iss != nil && iss.Err() != nil {
			return fmt.Errorf("compile cond %q: %w", t.Cond, iss.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("cond %q must evaluate to bool, got %s", t.Cond, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("program cond %q: %w", t.Cond, err)
		}
		t.prg = prg
	}
	return nil
}

// allows 判断一条转移对给定上下文和事件是否放行。
func (t *Transition[C]) allows(c C, ev Event) (bool, error) {
	if t.Guard != nil {
		return t.Guard(c, ev), nil
	}
	if t.prg == nil {
		return true, nil
	}
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	out, _, err := t.prg.Eval(map[string]any{"data": data})
	if err != nil {
		return false, fmt.Errorf("eval cond %q: %w", t.Cond, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cond %q returned non-bool %T", t.Cond, out.Value())
	}
	return b, nil
}
