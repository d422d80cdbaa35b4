package deal

import (
	"context"
	"testing"

	"EstateChain/internal/escrow"
	"EstateChain/internal/ledger"
	"EstateChain/internal/protocol"
)

type stubLedger struct {
	puts   []any
	putErr error
}

func (s *stubLedger) Put(_ context.Context, _ ledger.Kind, payload any) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts = append(s.puts, payload)
	return "txn-1", nil
}

func (s *stubLedger) GetAll(context.Context, ledger.Kind) ([]ledger.Record, error) {
	return nil, nil
}

func (s *stubLedger) Close() error { return nil }

type capturedReply struct {
	kind    protocol.Kind
	payload any
}

type stubReplier struct {
	replies []capturedReply
}

func (s *stubReplier) Reply(_ context.Context, kind protocol.Kind, payload any) error {
	s.replies = append(s.replies, capturedReply{kind: kind, payload: payload})
	return nil
}

func transactionEnvelope(t *testing.T, req protocol.TransactionRequest) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.KindTransaction, req.Buyer, "", req)
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	return env
}

func lastDealUpdate(t *testing.T, replier *stubReplier) *Deal {
	t.Helper()
	if len(replier.replies) == 0 {
		t.Fatalf("没有收到任何回复")
	}
	last := replier.replies[len(replier.replies)-1]
	if last.kind != protocol.KindDealUpdate {
		t.Fatalf("期望 deal_update 回复, 实际 %s", last.kind)
	}
	d, ok := last.payload.(*Deal)
	if !ok {
		t.Fatalf("unexpected payload type: %T", last.payload)
	}
	return d
}

func TestCoordinatorCompletesDeal(t *testing.T) {
	led := &stubLedger{}
	coordinator := NewCoordinator(NewMemoryStore(), led, escrow.StaticVerifier{Approve: true})

	req := protocol.TransactionRequest{Buyer: "buyer-1", Seller: "seller-1", ListingID: "p-1", OfferPrice: 300000}
	replier := &stubReplier{}
	if err := coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := lastDealUpdate(t, replier)
	if final.State != StateCompleted {
		t.Fatalf("期望交易完成, 实际状态 %s (%s)", final.State, final.LastError)
	}

	// 终态记录必须先写入账本。
	if len(led.puts) != 1 {
		t.Fatalf("期望账本收录一条成交记录, 实际 %d", len(led.puts))
	}
	recorded, ok := led.puts[0].(Deal)
	if !ok {
		t.Fatalf("unexpected ledger payload type: %T", led.puts[0])
	}
	if recorded.State != StateCompleted || recorded.ListingID != "p-1" {
		t.Fatalf("unexpected ledger record: %+v", recorded)
	}
}

func TestCoordinatorRejectsConcurrentDealOnSameListing(t *testing.T) {
	store := NewMemoryStore()
	// 第一笔交易停在非终态，模拟进行中的交易。
	if err := store.Begin(context.Background(), &Deal{
		ID: "d-held", Buyer: "b0", Seller: "s0", ListingID: "p-1", OfferPrice: 1, State: StateRequested,
	}); err != nil {
		t.Fatalf("预置交易失败: %v", err)
	}

	coordinator := NewCoordinator(store, &stubLedger{}, escrow.StaticVerifier{Approve: true})

	req := protocol.TransactionRequest{Buyer: "buyer-2", Seller: "seller-1", ListingID: "p-1", OfferPrice: 200}
	replier := &stubReplier{}
	if err := coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier); err != nil {
		t.Fatalf("冲突属于业务拒绝, 不应返回错误: %v", err)
	}

	if len(replier.replies) != 1 {
		t.Fatalf("期望一条拒绝回复, 实际 %d", len(replier.replies))
	}
	status, ok := replier.replies[0].payload.(protocol.StatusResponse)
	if !ok || replier.replies[0].kind != protocol.KindStatus {
		t.Fatalf("unexpected reply: %+v", replier.replies[0])
	}
	if status.Success {
		t.Fatalf("并发请求应被拒绝而不是排队")
	}
}

func TestCoordinatorFailsWhenEscrowNotFunded(t *testing.T) {
	led := &stubLedger{}
	coordinator := NewCoordinator(NewMemoryStore(), led, escrow.StaticVerifier{Approve: false})

	req := protocol.TransactionRequest{Buyer: "buyer-1", Seller: "seller-1", ListingID: "p-1", OfferPrice: 100}
	replier := &stubReplier{}
	_ = coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier)

	final := lastDealUpdate(t, replier)
	if final.State != StateFailed {
		t.Fatalf("托管未到账应导致交易失败, 实际 %s", final.State)
	}
	if len(led.puts) != 0 {
		t.Fatalf("失败交易不得写入账本")
	}
}

func TestCoordinatorFailsWhenBuyerEqualsSeller(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryStore(), &stubLedger{}, escrow.StaticVerifier{Approve: true})

	req := protocol.TransactionRequest{Buyer: "alice", Seller: "Alice", ListingID: "p-1", OfferPrice: 100}
	replier := &stubReplier{}
	_ = coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier)

	final := lastDealUpdate(t, replier)
	if final.State != StateFailed {
		t.Fatalf("买卖同人应导致交易失败, 实际 %s", final.State)
	}
}

func TestCoordinatorFailsWhenLedgerWriteFails(t *testing.T) {
	led := &stubLedger{putErr: ledger.ErrTransport}
	store := NewMemoryStore()
	coordinator := NewCoordinator(store, led, escrow.StaticVerifier{Approve: true})

	req := protocol.TransactionRequest{Buyer: "buyer-1", Seller: "seller-1", ListingID: "p-1", OfferPrice: 100}
	replier := &stubReplier{}
	_ = coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier)

	final := lastDealUpdate(t, replier)
	if final.State != StateFailed {
		t.Fatalf("落账失败应导致交易失败, 实际 %s", final.State)
	}

	// 失败的交易释放房源，后续请求可以重试。
	retryReplier := &stubReplier{}
	led.putErr = nil
	if err := coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), retryReplier); err != nil {
		t.Fatalf("重试失败: %v", err)
	}
	if lastDealUpdate(t, retryReplier).State != StateCompleted {
		t.Fatalf("重试应当成功完成")
	}
}

func TestCoordinatorRejectsInvalidRequest(t *testing.T) {
	coordinator := NewCoordinator(NewMemoryStore(), &stubLedger{}, escrow.StaticVerifier{Approve: true})

	cases := []protocol.TransactionRequest{
		{Buyer: "", Seller: "s", ListingID: "p-1", OfferPrice: 100},
		{Buyer: "b", Seller: "s", ListingID: "", OfferPrice: 100},
		{Buyer: "b", Seller: "s", ListingID: "p-1", OfferPrice: 0},
		{Buyer: "b", Seller: "s", ListingID: "p-1", OfferPrice: -5},
	}
	for i, req := range cases {
		replier := &stubReplier{}
		if err := coordinator.HandleTransaction(context.Background(), transactionEnvelope(t, req), replier); err != nil {
			t.Fatalf("用例 %d: 非法请求应以失败回复收尾, 实际错误 %v", i, err)
		}
		status, ok := replier.replies[0].payload.(protocol.StatusResponse)
		if !ok || status.Success {
			t.Fatalf("用例 %d: 期望失败状态回复, 实际 %+v", i, replier.replies[0])
		}
	}
}
