package broker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"EstateChain/internal/ledger"
	"EstateChain/internal/protocol"
	"EstateChain/internal/scoring"
)

type stubLedger struct {
	records []ledger.Record
	putErr  error
	getErr  error
	puts    []any
}

func (s *stubLedger) Put(_ context.Context, _ ledger.Kind, payload any) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts = append(s.puts, payload)
	return "prop-1", nil
}

func (s *stubLedger) GetAll(context.Context, ledger.Kind) ([]ledger.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.records, nil
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

func listingEnvelope(t *testing.T, listing protocol.Listing) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.KindListing, listing.Seller, "", listing)
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	return env
}

func queryEnvelope(t *testing.T, query protocol.Query) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.KindQuery, query.Buyer, "", query)
	if err != nil {
		t.Fatalf("构造封装失败: %v", err)
	}
	return env
}

func statusOf(t *testing.T, reply capturedReply) protocol.StatusResponse {
	t.Helper()
	if reply.kind != protocol.KindStatus {
		t.Fatalf("期望 status 回复, 实际 %s", reply.kind)
	}
	status, ok := reply.payload.(protocol.StatusResponse)
	if !ok {
		t.Fatalf("unexpected payload type: %T", reply.payload)
	}
	return status
}

func TestHandleListingRegistersAndReplies(t *testing.T) {
	led := &stubLedger{}
	b := New(led, scoring.NewRuleEngine())

	listing := protocol.Listing{
		Seller:   "seller-1",
		Price:    250000,
		Location: "downtown",
		Bedrooms: 3,
		AreaSqM:  95,
	}
	replier := &stubReplier{}
	if err := b.HandleListing(context.Background(), listingEnvelope(t, listing), replier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(led.puts) != 1 {
		t.Fatalf("期望写入账本一次, 实际 %d", len(led.puts))
	}
	stored, ok := led.puts[0].(protocol.Listing)
	if !ok {
		t.Fatalf("unexpected stored type: %T", led.puts[0])
	}
	if stored.Status != protocol.ListingActive {
		t.Fatalf("登记房源应标记为 Active, 实际 %s", stored.Status)
	}

	if len(replier.replies) != 1 {
		t.Fatalf("期望一条回复, 实际 %d", len(replier.replies))
	}
	status := statusOf(t, replier.replies[0])
	if !status.Success {
		t.Fatalf("期望登记成功, 实际 %+v", status)
	}
	if !strings.Contains(status.Message, "prop-1") {
		t.Fatalf("回复应包含账本编号, 实际 %q", status.Message)
	}
}

func TestHandleListingRejectsFraudulentListing(t *testing.T) {
	led := &stubLedger{}
	b := New(led, scoring.NewRuleEngine())

	// 大面积却异常低价，欺诈初筛应拦截。
	listing := protocol.Listing{
		Seller:  "seller-2",
		Price:   5000,
		AreaSqM: 120,
	}
	replier := &stubReplier{}
	if err := b.HandleListing(context.Background(), listingEnvelope(t, listing), replier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(led.puts) != 0 {
		t.Fatalf("被拦截的房源不得写入账本")
	}
	status := statusOf(t, replier.replies[0])
	if status.Success {
		t.Fatalf("期望拒绝登记, 实际 %+v", status)
	}
}

func TestHandleListingLedgerFailure(t *testing.T) {
	led := &stubLedger{putErr: ledger.ErrTransport}
	b := New(led, scoring.NewRuleEngine())

	listing := protocol.Listing{Seller: "seller-3", Price: 250000, AreaSqM: 80}
	replier := &stubReplier{}
	if err := b.HandleListing(context.Background(), listingEnvelope(t, listing), replier); err == nil {
		t.Fatalf("账本失败应向上返回错误")
	}

	status := statusOf(t, replier.replies[0])
	if status.Success {
		t.Fatalf("账本失败时应回复失败状态")
	}
}

func mustRawListing(t *testing.T, listing protocol.Listing) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(listing)
	if err != nil {
		t.Fatalf("序列化房源失败: %v", err)
	}
	return raw
}

func TestHandleQueryRepliesPerMatch(t *testing.T) {
	listings := []protocol.Listing{
		{ID: "p-1", Seller: "s1", Price: 200000, Location: "Downtown East", Bedrooms: 3},
		{ID: "p-2", Seller: "s2", Price: 900000, Location: "Downtown West", Bedrooms: 4},
		{ID: "p-3", Seller: "s3", Price: 150000, Location: "downtown riverside", Bedrooms: 2},
	}
	led := &stubLedger{}
	for _, l := range listings {
		led.records = append(led.records, ledger.Record{ID: l.ID, Payload: mustRawListing(t, l)})
	}
	b := New(led, scoring.NewRuleEngine())

	query := protocol.Query{Buyer: "buyer-1", MaxPrice: 300000, Location: "downtown", MinBedrooms: 2}
	replier := &stubReplier{}
	if err := b.HandleQuery(context.Background(), queryEnvelope(t, query), replier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(replier.replies) != 2 {
		t.Fatalf("期望两条命中回复, 实际 %d", len(replier.replies))
	}
	// 命中结果保持账本顺序。
	wantIDs := []string{"p-1", "p-3"}
	for i, reply := range replier.replies {
		if reply.kind != protocol.KindMatch {
			t.Fatalf("期望 match 回复, 实际 %s", reply.kind)
		}
		result, ok := reply.payload.(protocol.MatchResult)
		if !ok {
			t.Fatalf("unexpected payload type: %T", reply.payload)
		}
		if result.ListingID != wantIDs[i] {
			t.Fatalf("第 %d 条命中期望 %s, 实际 %s", i, wantIDs[i], result.ListingID)
		}
		if result.Buyer != "buyer-1" {
			t.Fatalf("命中结果应回送买家身份, 实际 %q", result.Buyer)
		}
	}
}

func TestHandleQueryEmptyLedgerRepliesOnce(t *testing.T) {
	led := &stubLedger{}
	b := New(led, scoring.NewRuleEngine())

	query := protocol.Query{Buyer: "buyer-2", MaxPrice: 100000}
	replier := &stubReplier{}
	if err := b.HandleQuery(context.Background(), queryEnvelope(t, query), replier); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(replier.replies) != 1 {
		t.Fatalf("无命中时应恰好回复一条, 实际 %d", len(replier.replies))
	}
	result, ok := replier.replies[0].payload.(protocol.MatchResult)
	if !ok {
		t.Fatalf("unexpected payload type: %T", replier.replies[0].payload)
	}
	if result.ListingID != "" {
		t.Fatalf("无命中回复的编号应为空, 实际 %q", result.ListingID)
	}
	if result.Message == "" {
		t.Fatalf("无命中回复应携带提示文案")
	}
}

func TestHandleQueryLedgerFailure(t *testing.T) {
	led := &stubLedger{getErr: ledger.ErrTimeout}
	b := New(led, scoring.NewRuleEngine())

	query := protocol.Query{Buyer: "buyer-3", MaxPrice: 100000}
	replier := &stubReplier{}
	if err := b.HandleQuery(context.Background(), queryEnvelope(t, query), replier); err == nil {
		t.Fatalf("账本失败应向上返回错误")
	}

	status := statusOf(t, replier.replies[0])
	if status.Success {
		t.Fatalf("账本失败时应回复失败状态而不是静默")
	}
}
