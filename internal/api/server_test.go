package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"EstateChain/internal/deal"
	"EstateChain/internal/escrow"
	"EstateChain/internal/ledger"
	"EstateChain/internal/protocol"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	router := protocol.NewRouter()
	if err := router.Register(protocol.KindQuery, func(ctx context.Context, env protocol.Envelope, reply protocol.Replier) error {
		var query protocol.Query
		if err := json.Unmarshal(env.Payload, &query); err != nil {
			return err
		}
		return reply.Reply(ctx, protocol.KindMatch, protocol.MatchResult{Buyer: query.Buyer, Message: "hit"})
	}); err != nil {
		t.Fatalf("注册处理器失败: %v", err)
	}

	coordinator := deal.NewCoordinator(deal.NewMemoryStore(), ledger.NewMemoryLedger(), escrow.StaticVerifier{Approve: true})
	return NewServer(":0", router, coordinator, "agent-test")
}

func TestHandleMessagesCollectsReplies(t *testing.T) {
	server := newTestServer(t)

	body := `{"kind":"query","sender":"buyer-1","payload":{"buyer":"buyer-1","max_price":100000}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.handleMessages(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp struct {
		Replies []struct {
			Kind    protocol.Kind   `json:"kind"`
			Payload json.RawMessage `json:"payload"`
		} `json:"replies"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Replies) != 1 || resp.Replies[0].Kind != protocol.KindMatch {
		t.Fatalf("unexpected replies: %+v", resp.Replies)
	}
}

func TestHandleMessagesRejectsOutboundKind(t *testing.T) {
	server := newTestServer(t)

	body := `{"kind":"match","sender":"x","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.handleMessages(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("出站类型不应被网关接受, 实际 %d", recorder.Code)
	}
}

func TestHandleMessagesRejectsNonPost(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	recorder := httptest.NewRecorder()
	server.handleMessages(recorder, req)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("期望 405, 实际 %d", recorder.Code)
	}
}

func TestHandleDealsReturnsRecentDeals(t *testing.T) {
	server := newTestServer(t)

	// 通过协调器完成一笔交易，再从网关查询。
	env, err := protocol.NewEnvelope(protocol.KindTransaction, "buyer-1", "", protocol.TransactionRequest{
		Buyer: "buyer-1", Seller: "seller-1", ListingID: "p-1", OfferPrice: 100,
	})
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	noop := protocol.ReplierFunc(func(context.Context, protocol.Kind, any) error { return nil })
	if err := server.coordinator.HandleTransaction(context.Background(), env, noop); err != nil {
		t.Fatalf("执行交易失败: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/deals?limit=5", nil)
	recorder := httptest.NewRecorder()
	server.handleDeals(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", recorder.Code)
	}
	var deals []deal.Deal
	if err := json.Unmarshal(recorder.Body.Bytes(), &deals); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(deals) != 1 || deals[0].State != deal.StateCompleted {
		t.Fatalf("unexpected deals: %+v", deals)
	}
}

func TestHandleMetricsServesSnapshot(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	server.handleMetrics(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("期望 200, 实际 %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "estatechain_messages_total") {
		t.Fatalf("指标输出缺少计数器类型声明:\n%s", recorder.Body.String())
	}
}
