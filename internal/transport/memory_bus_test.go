package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"EstateChain/internal/protocol"
)

func TestMemoryBusRoundTripThroughRouter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewMemoryBus("agent.inbox", 16)
	defer bus.Close()

	router := protocol.NewRouter()
	err := router.Register(protocol.KindQuery, func(ctx context.Context, env protocol.Envelope, reply protocol.Replier) error {
		var query protocol.Query
		if err := json.Unmarshal(env.Payload, &query); err != nil {
			return err
		}
		return reply.Reply(ctx, protocol.KindMatch, protocol.MatchResult{
			Buyer:   query.Buyer,
			Message: "hit",
		})
	})
	if err != nil {
		t.Fatalf("注册处理器失败: %v", err)
	}

	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()
	go func() {
		_ = bus.Consume(consumeCtx, 2, Bind(router, bus, "agent-1"))
	}()

	env, err := protocol.NewEnvelope(protocol.KindQuery, "buyer-1", "buyer-1.inbox", protocol.Query{
		Buyer:    "buyer-1",
		MaxPrice: 100000,
	})
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	body, err := env.Encode()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	if err := bus.Publish(ctx, "agent.inbox", body); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	replyBody, err := bus.Receive(ctx, "buyer-1.inbox")
	if err != nil {
		t.Fatalf("等待回复失败: %v", err)
	}
	reply, err := protocol.DecodeEnvelope(replyBody)
	if err != nil {
		t.Fatalf("解析回复失败: %v", err)
	}
	if reply.Kind != protocol.KindMatch || reply.Sender != "agent-1" {
		t.Fatalf("unexpected reply envelope: %+v", reply)
	}

	var result protocol.MatchResult
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		t.Fatalf("解析回复载荷失败: %v", err)
	}
	if result.Buyer != "buyer-1" || result.Message != "hit" {
		t.Fatalf("unexpected match result: %+v", result)
	}
}

func TestBindDropsUndecodableMessage(t *testing.T) {
	router := protocol.NewRouter()
	handler := Bind(router, NewMemoryBus("x", 1), "agent-1")

	if err := handler(context.Background(), []byte("garbage")); err != nil {
		t.Fatalf("无法解码的消息应被丢弃而不是报错: %v", err)
	}
}

func TestBindDropsReplyWithoutReplyTo(t *testing.T) {
	bus := NewMemoryBus("agent.inbox", 4)
	defer bus.Close()

	router := protocol.NewRouter()
	if err := router.Register(protocol.KindListing, func(ctx context.Context, _ protocol.Envelope, reply protocol.Replier) error {
		return reply.Reply(ctx, protocol.KindStatus, protocol.StatusResponse{Success: true})
	}); err != nil {
		t.Fatalf("注册处理器失败: %v", err)
	}

	env, err := protocol.NewEnvelope(protocol.KindListing, "seller-1", "", protocol.Listing{Seller: "seller-1"})
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	body, err := env.Encode()
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}

	// 未声明 reply_to 时回复被丢弃，处理本身不报错。
	if err := Bind(router, bus, "agent-1")(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	bus := NewMemoryBus("agent.inbox", 1)
	_ = bus.Close()

	if err := bus.Publish(context.Background(), "agent.inbox", []byte("{}")); err == nil {
		t.Fatalf("关闭后的总线应拒绝投递")
	}
}
