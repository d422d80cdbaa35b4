package protocol

import (
	"context"
	"log/slog"
	"time"

	xerrors "EstateChain/internal/errors"
	"EstateChain/internal/observability/metrics"
	"EstateChain/pkg/logger"
)

// Replier 是绑定到单条入站消息的回复能力。
// 同一条消息的处理过程中可以调用零次、一次或多次；消息处理结束后不得继续持有。
type Replier interface {
	Reply(ctx context.Context, kind Kind, payload any) error
}

// ReplierFunc 允许用函数直接充当 Replier。
type ReplierFunc func(ctx context.Context, kind Kind, payload any) error

// Reply 实现 Replier 接口。
func (f ReplierFunc) Reply(ctx context.Context, kind Kind, payload any) error {
	return f(ctx, kind, payload)
}

// Handler 处理一条已解码的入站消息。
type Handler func(ctx context.Context, env Envelope, reply Replier) error

// Router 维护消息类型到处理器的静态映射，并负责分发与回复扇出。
type Router struct {
	handlers map[Kind]Handler
	logger   *slog.Logger
}

// RouterOption 定义可选配置。
type RouterOption func(*Router)

// WithRouterLogger 指定路由日志输出。
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// NewRouter 创建一个空路由表。
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{handlers: make(map[Kind]Handler)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 将处理器登记到指定消息类型。重复登记视为配置错误。
func (r *Router) Register(kind Kind, handler Handler) error {
	if handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "处理器不能为空")
	}
	if _, ok := r.handlers[kind]; ok {
		return xerrors.New(xerrors.CodeConflict, "消息类型已注册处理器",
			xerrors.WithMetadata("kind", string(kind)))
	}
	r.handlers[kind] = handler
	return nil
}

// Dispatch 按消息类型查表分发。未注册的类型记录日志后丢弃，不向发送方报错。
func (r *Router) Dispatch(ctx context.Context, env Envelope, reply Replier) error {
	handler, ok := r.handlers[env.Kind]
	if !ok {
		r.log().Warn("丢弃未注册类型的消息",
			slog.String("kind", string(env.Kind)),
			slog.String("message_id", env.ID),
			slog.String("sender", env.Sender),
		)
		metrics.ObserveMessage(string(env.Kind), metrics.OutcomeDropped, 0)
		return nil
	}

	start := time.Now()
	err := handler(ctx, env, reply)
	elapsed := time.Since(start)
	if err != nil {
		r.log().Error("消息处理失败",
			slog.Any("error", err),
			slog.String("kind", string(env.Kind)),
			slog.String("message_id", env.ID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
		)
		metrics.ObserveMessage(string(env.Kind), metrics.OutcomeFailed, elapsed)
		return err
	}
	metrics.ObserveMessage(string(env.Kind), metrics.OutcomeHandled, elapsed)
	return nil
}

func (r *Router) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logger.L()
}
