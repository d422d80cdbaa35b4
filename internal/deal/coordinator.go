package deal

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "EstateChain/internal/errors"
	"EstateChain/internal/escrow"
	"EstateChain/internal/ledger"
	"EstateChain/internal/observability/alerting"
	"EstateChain/internal/protocol"
	"EstateChain/pkg/logger"
)

// Coordinator 驱动交易状态机：Requested -> Verifying -> Escrowed -> Completed，
// 任何一步失败都落到 Failed。同一房源的并发请求由 Store 串行化，
// 后到的请求收到 Conflict 拒绝而不是排队等待。
type Coordinator struct {
	store         Store
	ledgerClient  ledger.Client
	verifier      escrow.Verifier
	escrowAccount string
	alerter       alerting.Dispatcher
	logger        *slog.Logger
}

// CoordinatorOption 定义可选配置。
type CoordinatorOption func(*Coordinator)

// WithEscrowAccount 指定统一的托管账户地址。
func WithEscrowAccount(account string) CoordinatorOption {
	return func(c *Coordinator) {
		c.escrowAccount = strings.TrimSpace(account)
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) CoordinatorOption {
	return func(c *Coordinator) {
		c.alerter = dispatcher
	}
}

// WithCoordinatorLogger 指定日志输出。
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator 构造交易协调器。
func NewCoordinator(store Store, ledgerClient ledger.Client, verifier escrow.Verifier, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:        store,
		ledgerClient: ledgerClient,
		verifier:     verifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// HandleTransaction 处理买家的成交请求。
func (c *Coordinator) HandleTransaction(ctx context.Context, env protocol.Envelope, reply protocol.Replier) error {
	if c.store == nil || c.ledgerClient == nil || c.verifier == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "交易协调器未初始化")
	}

	var req protocol.TransactionRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return c.replyStatus(ctx, reply, false, "成交请求解析失败")
	}
	if strings.TrimSpace(req.Buyer) == "" || strings.TrimSpace(req.ListingID) == "" {
		return c.replyStatus(ctx, reply, false, "成交请求缺少买家或房源编号")
	}
	if req.OfferPrice <= 0 {
		return c.replyStatus(ctx, reply, false, "报价必须为正数")
	}

	d := &Deal{
		ID:         uuid.NewString(),
		Buyer:      req.Buyer,
		Seller:     req.Seller,
		ListingID:  req.ListingID,
		OfferPrice: req.OfferPrice,
		State:      StateRequested,
	}
	if err := c.store.Begin(ctx, d); err != nil {
		if stdErrors.Is(err, ErrDealConflict) {
			logger.Audit().Warn("拒绝并发成交请求",
				slog.String("listing_id", req.ListingID),
				slog.String("buyer", req.Buyer),
				slog.String("error_code", string(CodeDealConflict)),
			)
			return c.replyStatus(ctx, reply, false, "该房源已有进行中的交易，请稍后再试")
		}
		if replyErr := c.replyStatus(ctx, reply, false, "交易登记失败"); replyErr != nil {
			return stdErrors.Join(err, replyErr)
		}
		return err
	}

	// 登记成功后先回执一次状态，再推进状态机。
	if err := reply.Reply(ctx, protocol.KindDealUpdate, d); err != nil {
		c.log().Warn("交易登记回执发送失败", slog.Any("error", err), slog.String("deal_id", d.ID))
	}
	return c.advance(ctx, d, reply)
}

// advance 逐步推进状态机，每次迁移都先提交存储再产生外部效果。
func (c *Coordinator) advance(ctx context.Context, d *Deal, reply protocol.Replier) error {
	current, err := c.store.Transition(ctx, d.ID, StateVerifying, "")
	if err != nil {
		return c.fail(ctx, d, reply, CodeDealVerify, fmt.Sprintf("进入核验阶段失败: %v", err))
	}
	d = current

	if strings.EqualFold(d.Buyer, d.Seller) {
		return c.fail(ctx, d, reply, CodeDealVerify, "买卖双方身份不能相同")
	}

	funded, err := c.verifier.VerifyDeposit(ctx, c.escrowAccount, d.OfferPrice)
	if err != nil {
		return c.fail(ctx, d, reply, CodeDealEscrow, fmt.Sprintf("托管资金核验失败: %v", err))
	}
	if !funded {
		return c.fail(ctx, d, reply, CodeDealEscrow, "托管账户资金未到位")
	}

	current, err = c.store.Transition(ctx, d.ID, StateEscrowed, "")
	if err != nil {
		return c.fail(ctx, d, reply, CodeDealEscrow, fmt.Sprintf("进入托管阶段失败: %v", err))
	}
	d = current

	// 终态记录先写账本，账本确认后才在本地提交 Completed。
	completed := *d
	completed.State = StateCompleted
	if _, err := c.ledgerClient.Put(ctx, ledger.KindTransaction, completed); err != nil {
		return c.fail(ctx, d, reply, xerrors.CodeOf(err), fmt.Sprintf("交易落账失败: %v", err))
	}

	current, err = c.store.Transition(ctx, d.ID, StateCompleted, "")
	if err != nil {
		// 账本已收录本笔交易，本地提交失败只能告警人工对账。
		c.emitAlert(ctx, d, CodeDealTransition, err)
		return err
	}
	d = current

	logger.Audit().Info("交易完成",
		slog.String("deal_id", d.ID),
		slog.String("listing_id", d.ListingID),
		slog.String("buyer", d.Buyer),
		slog.Float64("offer_price", d.OfferPrice),
	)
	return reply.Reply(ctx, protocol.KindDealUpdate, d)
}

// fail 将交易标记为 Failed，发出告警并回复失败详情。
func (c *Coordinator) fail(ctx context.Context, d *Deal, reply protocol.Replier, code xerrors.Code, detail string) error {
	failed, err := c.store.Transition(ctx, d.ID, StateFailed, detail)
	if err != nil {
		c.log().Error("标记交易失败状态出错",
			slog.Any("error", err),
			slog.String("deal_id", d.ID),
		)
		failed = d
	}
	logger.Audit().Warn("交易失败",
		slog.String("deal_id", d.ID),
		slog.String("listing_id", d.ListingID),
		slog.String("error_code", string(code)),
		slog.String("detail", detail),
	)
	c.emitAlert(ctx, failed, code, stdErrors.New(detail))
	return reply.Reply(ctx, protocol.KindDealUpdate, failed)
}

// List 返回最近的交易记录，供网关查询。
func (c *Coordinator) List(ctx context.Context, limit int) ([]*Deal, error) {
	if c.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易存储未初始化")
	}
	return c.store.List(ctx, limit)
}

func (c *Coordinator) replyStatus(ctx context.Context, reply protocol.Replier, success bool, message string) error {
	return reply.Reply(ctx, protocol.KindStatus, protocol.StatusResponse{
		Success: success,
		Message: message,
	})
}

func (c *Coordinator) emitAlert(ctx context.Context, d *Deal, code xerrors.Code, cause error) {
	if c == nil || c.alerter == nil || d == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		DealID:     d.ID,
		ListingID:  d.ListingID,
		Metadata:   map[string]string{"buyer": d.Buyer, "seller": d.Seller},
		OccurredAt: time.Now(),
	}
	if err := c.alerter.Notify(ctx, event); err != nil {
		c.log().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("deal_id", d.ID),
		)
	}
}

func (c *Coordinator) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logger.L()
}
