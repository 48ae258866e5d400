// internal/durable/executor.go
package durable

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrHeartbeatTimeout 表示一个长活动在心跳窗口内没有任何存活信号。
// 它与整体超时不同：心跳超时说明调用已经“死了”，而不是“还在慢慢跑”。
var ErrHeartbeatTimeout = errors.New("durable: activity heartbeat timeout")

// RetryPolicy 描述活动调用的重试策略。活动必须是幂等或可安全重试的，
// 去重由目标系统（幂等键）负责，见 port.ActivityGateway。
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaxInterval        time.Duration
	MaxAttempts        int
}

// DefaultRetryPolicy 对应秒级 start-to-close 的短活动。
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval:    200 * time.Millisecond,
	BackoffCoefficient: 2.0,
	MaxInterval:        2 * time.Second,
	MaxAttempts:        3,
}

type nonRetryable struct{ err error }

func (n nonRetryable) Error() string { return n.err.Error() }
func (n nonRetryable) Unwrap() error { return n.err }

// NonRetryable 标记一个不应被重试的业务失败（例如支付被明确拒绝）。
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryable{err: err}
}

// IsNonRetryable 判断错误是否被 NonRetryable 标记过。
func IsNonRetryable(err error) bool {
	var nr nonRetryable
	return errors.As(err, &nr)
}

// Executor 是底座的 at-least-once 活动执行器：瞬时失败按策略退避重试，
// 业务性失败（NonRetryable）立即上抛。sleep 可注入以便测试不真实等待。
type Executor struct {
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(log zerolog.Logger) *Executor {
	return &Executor{
		log: log,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Execute 以重试策略运行一个短活动。
func (e *Executor) Execute(ctx context.Context, name string, policy RetryPolicy, fn func(ctx context.Context) error) error {
	interval := policy.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) || ctx.Err() != nil {
			return lastErr
		}

		e.log.Warn().Err(lastErr).Str("activity", name).Int("attempt", attempt).Msg("activity attempt failed")

		if attempt == policy.MaxAttempts {
			break
		}
		if err := e.sleep(ctx, interval); err != nil {
			return err
		}
		interval = time.Duration(float64(interval) * policy.BackoffCoefficient)
		if interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}
	return errors.Wrapf(lastErr, "activity %s exhausted %d attempts", name, policy.MaxAttempts)
}

// ExecuteWithHeartbeat 运行一个长活动。fn 必须周期性调用 beat 上报存活；
// 超过 heartbeatTimeout 没有心跳时调用被取消并返回 ErrHeartbeatTimeout，
// deadline 是整体上限（反映外部有效期窗口，分钟级）。
func (e *Executor) ExecuteWithHeartbeat(ctx context.Context, name string, heartbeatTimeout, deadline time.Duration, fn func(ctx context.Context, beat func()) error) error {
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	beats := make(chan struct{}, 1)
	beat := func() {
		select {
		case beats <- struct{}{}:
		default:
		}
	}

	result := make(chan error, 1)
	go func() { result <- fn(runCtx, beat) }()

	watchdog := time.NewTimer(heartbeatTimeout)
	defer watchdog.Stop()

	for {
		select {
		case err := <-result:
			return err
		case <-beats:
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(heartbeatTimeout)
		case <-watchdog.C:
			cancel()
			<-result // 等待 fn 观察到取消退出，避免泄漏
			e.log.Error().Str("activity", name).Dur("heartbeat_timeout", heartbeatTimeout).Msg("activity lost heartbeat")
			return ErrHeartbeatTimeout
		case <-runCtx.Done():
			err := <-result
			if err == nil {
				err = runCtx.Err()
			}
			return err
		}
	}
}
