package broker

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	xerrors "EstateChain/internal/errors"
	"EstateChain/internal/ledger"
	"EstateChain/internal/neighborhoods"
	"EstateChain/internal/protocol"
	"EstateChain/internal/scoring"
	"EstateChain/pkg/logger"
)

// CodeFraudFlagged 表示房源未通过欺诈初筛。这是业务拒绝而非系统故障。
const CodeFraudFlagged xerrors.Code = "LISTING_FRAUD_FLAGGED"

func init() {
	xerrors.Register(CodeFraudFlagged, xerrors.Attributes{
		Message:   "listing flagged by fraud screening",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// Broker 协调评分引擎与账本客户端，处理房源提交与买家检索，是匹配侧的业务核心。
// Broker 自身不缓存房源：每次检索都重新读取账本，用延迟换新鲜度。
type Broker struct {
	ledgerClient ledger.Client
	engine       scoring.Engine
	notes        neighborhoods.Provider
	logger       *slog.Logger
}

// Option 定义可选的 Broker 配置。
type Option func(*Broker)

// WithNeighborhoodProvider 配置街区情报源，用于丰富匹配回复。
func WithNeighborhoodProvider(provider neighborhoods.Provider) Option {
	return func(b *Broker) {
		b.notes = provider
	}
}

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// New 创建一个 Broker。
func New(ledgerClient ledger.Client, engine scoring.Engine, opts ...Option) *Broker {
	b := &Broker{
		ledgerClient: ledgerClient,
		engine:       engine,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// HandleListing 处理卖家的房源提交。
// 欺诈初筛不通过的房源直接拒绝，绝不写入账本；通过后标记 Active 再落库。
func (b *Broker) HandleListing(ctx context.Context, env protocol.Envelope, reply protocol.Replier) error {
	if b.ledgerClient == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置账本客户端")
	}

	var listing protocol.Listing
	if err := json.Unmarshal(env.Payload, &listing); err != nil {
		return b.replyStatus(ctx, reply, false, "房源载荷解析失败")
	}
	if strings.TrimSpace(listing.Seller) == "" {
		return b.replyStatus(ctx, reply, false, "房源缺少卖家身份")
	}
	if listing.Price < 0 || listing.AreaSqM < 0 {
		return b.replyStatus(ctx, reply, false, "房源价格与面积不能为负")
	}

	if b.engine.Fraud != nil && b.engine.Fraud.Screen(listing) {
		logger.Audit().Warn("房源被欺诈初筛拦截",
			slog.String("seller", listing.Seller),
			slog.String("location", listing.Location),
			slog.Float64("price", listing.Price),
			slog.String("error_code", string(CodeFraudFlagged)),
		)
		return b.replyStatus(ctx, reply, false, "房源未通过欺诈初筛，已拒绝登记")
	}

	// 估值仅用于回复文案，不参与是否登记的判断。
	estimated := listing.Price
	if b.engine.Value != nil {
		estimated = b.engine.Value.Estimate(listing)
	}

	listing.Status = protocol.ListingActive
	id, err := b.ledgerClient.Put(ctx, ledger.KindProperty, listing)
	if err != nil {
		if replyErr := b.replyStatus(ctx, reply, false, fmt.Sprintf("房源登记失败: %v", err)); replyErr != nil {
			return stdErrors.Join(err, replyErr)
		}
		return err
	}

	logger.Audit().Info("房源登记成功",
		slog.String("listing_id", id),
		slog.String("seller", listing.Seller),
		slog.String("location", listing.Location),
		slog.Float64("estimated_value", estimated),
	)
	return b.replyStatus(ctx, reply, true,
		fmt.Sprintf("房源已登记，编号 %s，参考估值 %.2f", id, estimated))
}

// HandleQuery 处理买家检索：拉取账本全量房源，按账本顺序过滤，逐条独立回复。
// 无命中时回复一条空编号的 MatchResult；账本失败时回复失败状态而不是静默丢弃。
func (b *Broker) HandleQuery(ctx context.Context, env protocol.Envelope, reply protocol.Replier) error {
	if b.ledgerClient == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置账本客户端")
	}

	var query protocol.Query
	if err := json.Unmarshal(env.Payload, &query); err != nil {
		return b.replyStatus(ctx, reply, false, "检索条件解析失败")
	}

	records, err := b.ledgerClient.GetAll(ctx, ledger.KindProperty)
	if err != nil {
		if replyErr := b.replyStatus(ctx, reply, false, fmt.Sprintf("房源检索失败: %v", err)); replyErr != nil {
			return stdErrors.Join(err, replyErr)
		}
		return err
	}

	matched := 0
	var replyErrs []error
	for _, record := range records {
		var listing protocol.Listing
		if err := json.Unmarshal(record.Payload, &listing); err != nil {
			b.log().Warn("跳过无法解析的账本房源记录",
				slog.String("record_id", record.ID),
				slog.Any("error", err),
			)
			continue
		}
		if listing.ID == "" {
			listing.ID = record.ID
		}
		if b.engine.Match == nil || !b.engine.Match.Matches(listing, query) {
			continue
		}
		matched++

		result := protocol.MatchResult{
			Buyer:     query.Buyer,
			ListingID: listing.ID,
			Listing:   record.Payload,
			Message:   b.describeMatch(listing),
		}
		if err := reply.Reply(ctx, protocol.KindMatch, result); err != nil {
			replyErrs = append(replyErrs, err)
		}
	}

	if matched == 0 {
		result := protocol.MatchResult{
			Buyer:   query.Buyer,
			Message: "没有找到符合条件的房源，可调整价格上限或地点后重试",
		}
		if err := reply.Reply(ctx, protocol.KindMatch, result); err != nil {
			replyErrs = append(replyErrs, err)
		}
	}

	logger.Audit().Info("完成一次买家检索",
		slog.String("buyer", query.Buyer),
		slog.String("location", query.Location),
		slog.Int("candidates", len(records)),
		slog.Int("matched", matched),
	)
	return stdErrors.Join(replyErrs...)
}

// describeMatch 生成单条命中的文案，并在可用时追加街区情报。
func (b *Broker) describeMatch(listing protocol.Listing) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("为您找到位于 %s 的 %s：%d 室 %d 卫，%.0f 平米，报价 %.2f",
		listing.Location, listing.PropertyType,
		listing.Bedrooms, listing.Bathrooms, listing.AreaSqM, listing.Price))
	if listing.TourURL != "" {
		builder.WriteString(fmt.Sprintf("，线上看房: %s", listing.TourURL))
	}
	if b.notes != nil {
		for _, note := range b.notes.Notes(listing.Location) {
			builder.WriteString(fmt.Sprintf("。街区提示（%s）: %s", note.Area, note.Summary))
		}
	}
	return builder.String()
}

func (b *Broker) replyStatus(ctx context.Context, reply protocol.Replier, success bool, message string) error {
	return reply.Reply(ctx, protocol.KindStatus, protocol.StatusResponse{
		Success: success,
		Message: message,
	})
}

func (b *Broker) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return logger.L()
}
