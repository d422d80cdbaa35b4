package deal

import "context"

// Store 抽象了交易记录的持久化接口。
// 实现必须保证同一房源同一时间只有一条非终态交易（Begin 对已占用的房源返回 ErrDealConflict）。
type Store interface {
	// Begin 登记一笔新交易。若房源已有非终态交易则返回 ErrDealConflict。
	Begin(ctx context.Context, deal *Deal) error
	// Get 返回指定交易。
	Get(ctx context.Context, id string) (*Deal, error)
	// Transition 将交易迁移到目标状态并提交；非法迁移返回 ErrInvalidTransition。
	Transition(ctx context.Context, id string, to State, lastError string) (*Deal, error)
	// List 返回最近的交易记录，按更新时间倒序。
	List(ctx context.Context, limit int) ([]*Deal, error)
	// Close 释放资源。
	Close() error
}
