package ledger

import (
	"context"
	"encoding/json"

	xerrors "EstateChain/internal/errors"
)

// Kind 区分账本上的记录类别。
type Kind string

const (
	KindProperty    Kind = "property"
	KindTransaction Kind = "transaction"
)

// Record 是账本返回的一条记录。Payload 保持原始字节，由调用方按 Kind 解码。
type Record struct {
	ID      string
	Payload json.RawMessage
}

// Client 是外部账本的异步门面。两个调用都有固定超时，绝不向外抛出未归一化的错误。
// 客户端内部不做任何重试，重试策略由调用方按 Retryable 属性自行组合。
type Client interface {
	// Put 将一条记录写入账本，返回账本分配的 ID。
	Put(ctx context.Context, kind Kind, payload any) (string, error)
	// GetAll 返回指定类别的全部记录，保持账本返回顺序。
	GetAll(ctx context.Context, kind Kind) ([]Record, error)
	// Close 释放底层连接。
	Close() error
}

// 账本客户端的错误码。Transport/Timeout/Decode 对应传输失败、超时与响应解析失败；
// Rejected 表示账本以 {"error": ...} 显式拒绝了本次调用。
const (
	CodeLedgerTransport xerrors.Code = "LEDGER_TRANSPORT"
	CodeLedgerTimeout   xerrors.Code = "LEDGER_TIMEOUT"
	CodeLedgerDecode    xerrors.Code = "LEDGER_DECODE"
	CodeLedgerRejected  xerrors.Code = "LEDGER_REJECTED"
)

var (
	// ErrTransport 表示与账本的网络通信失败。
	ErrTransport = xerrors.New(CodeLedgerTransport, "ledger transport failure")
	// ErrTimeout 表示账本调用超出限定时间。
	ErrTimeout = xerrors.New(CodeLedgerTimeout, "ledger call timed out")
	// ErrDecode 表示账本响应无法解析。
	ErrDecode = xerrors.New(CodeLedgerDecode, "ledger response malformed")
	// ErrRejected 表示账本显式拒绝了请求。
	ErrRejected = xerrors.New(CodeLedgerRejected, "ledger rejected the call")
)

func init() {
	xerrors.Register(CodeLedgerTransport, xerrors.Attributes{
		Message:   "ledger transport failure",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeLedgerTimeout, xerrors.Attributes{
		Message:   "ledger call timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeLedgerDecode, xerrors.Attributes{
		Message:   "ledger response malformed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeLedgerRejected, xerrors.Attributes{
		Message:   "ledger rejected the call",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}
