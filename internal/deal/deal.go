package deal

import (
	xerrors "EstateChain/internal/errors"
)

// State 表示一笔交易在生命周期中的状态。
type State string

const (
	StateRequested State = "Requested"
	StateVerifying State = "Verifying"
	StateEscrowed  State = "Escrowed"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsValidState 检查给定的状态是否为支持的枚举值。
func IsValidState(state State) bool {
	switch state {
	case StateRequested, StateVerifying, StateEscrowed, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// ValidTransition 判断状态迁移是否合法。
// 主路径为 Requested -> Verifying -> Escrowed -> Completed，
// 任意非终态都可以迁移到 Failed；Completed 必须经过 Escrowed。
func ValidTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	switch from {
	case StateRequested:
		return to == StateVerifying
	case StateVerifying:
		return to == StateEscrowed
	case StateEscrowed:
		return to == StateCompleted
	default:
		return false
	}
}

// Deal 是驱动交易状态机的唯一可变记录。
// 到达终态之前由交易协调器持有；终态之后转交账本做持久存储。
type Deal struct {
	ID         string  `json:"id"`
	Buyer      string  `json:"buyer"`
	Seller     string  `json:"seller"`
	ListingID  string  `json:"listing_id"`
	OfferPrice float64 `json:"offer_price"`
	State      State   `json:"state"`
	LastError  string  `json:"last_error,omitempty"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

var (
	// ErrDealNotFound 表示指定的交易不存在。
	ErrDealNotFound = xerrors.New(CodeDealNotFound, "deal not found")
	// ErrDealConflict 表示该房源已有进行中的交易，后到的请求直接拒绝而不排队。
	ErrDealConflict = xerrors.New(CodeDealConflict, "listing already under contract",
		xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidTransition 表示请求的状态迁移不合法。
	ErrInvalidTransition = xerrors.New(CodeDealTransition, "invalid deal state transition")
)

const (
	CodeDealNotFound   xerrors.Code = "DEAL_NOT_FOUND"
	CodeDealConflict   xerrors.Code = "DEAL_CONFLICT"
	CodeDealTransition xerrors.Code = "DEAL_INVALID_TRANSITION"
	CodeDealEscrow     xerrors.Code = "DEAL_ESCROW_FAILED"
	CodeDealVerify     xerrors.Code = "DEAL_VERIFY_FAILED"
)

func init() {
	xerrors.Register(CodeDealNotFound, xerrors.Attributes{
		Message:   "deal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDealConflict, xerrors.Attributes{
		Message:   "listing already under contract",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeDealTransition, xerrors.Attributes{
		Message:   "invalid deal state transition",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeDealEscrow, xerrors.Attributes{
		Message:   "escrow funding verification failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeDealVerify, xerrors.Attributes{
		Message:   "deal verification failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

func cloneDeal(d *Deal) *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}
