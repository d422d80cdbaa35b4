package transport

import (
	"context"
	"log/slog"

	"EstateChain/internal/protocol"
	"EstateChain/pkg/logger"
)

// Handler 处理来自消息总线的一条原始消息。
type Handler func(ctx context.Context, body []byte) error

// Producer 负责向指定队列投递消息。回复通过发送方声明的 reply_to 队列送达。
type Producer interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// Consumer 负责从本方入站队列消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备生产者与消费者能力。
type Bus interface {
	Producer
	Consumer
}

// Bind 将路由器挂到消息总线上：解码入站封装、构造绑定到 reply_to 的回复能力、
// 交给路由器分发。无法解码的消息记录日志后丢弃，不中断消费循环。
func Bind(router *protocol.Router, producer Producer, identity string) Handler {
	return func(ctx context.Context, body []byte) error {
		env, err := protocol.DecodeEnvelope(body)
		if err != nil {
			logger.L().Warn("丢弃无法解码的入站消息", slog.Any("error", err))
			return nil
		}

		replier := protocol.ReplierFunc(func(ctx context.Context, kind protocol.Kind, payload any) error {
			if env.ReplyTo == "" {
				logger.L().Warn("入站消息未声明回复队列，丢弃回复",
					slog.String("message_id", env.ID),
					slog.String("kind", string(kind)),
				)
				return nil
			}
			out, err := protocol.NewEnvelope(kind, identity, "", payload)
			if err != nil {
				return err
			}
			encoded, err := out.Encode()
			if err != nil {
				return err
			}
			return producer.Publish(ctx, env.ReplyTo, encoded)
		})

		return router.Dispatch(ctx, env, replier)
	}
}
