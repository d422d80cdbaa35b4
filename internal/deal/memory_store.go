package deal

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "EstateChain/internal/errors"
)

// MemoryStore 以内存方式保存交易记录，主要用于本地运行与测试。
// 每个房源的占用状态通过 active 索引维护，Begin 与 Transition 在同一把锁下提交，
// 保证并发请求下同一房源最多一条非终态交易。
type MemoryStore struct {
	mu     sync.RWMutex
	deals  map[string]*Deal
	active map[string]string // listingID -> 非终态交易 ID
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deals:  make(map[string]*Deal),
		active: make(map[string]string),
	}
}

// Begin 实现 Store 接口。
func (m *MemoryStore) Begin(_ context.Context, deal *Deal) error {
	if deal == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "deal 不能为空")
	}
	if deal.ID == "" || deal.ListingID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易缺少 ID 或房源编号")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[deal.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "交易 ID 已存在")
	}
	if _, ok := m.active[deal.ListingID]; ok {
		return ErrDealConflict
	}

	now := time.Now().Unix()
	if deal.CreatedAt == 0 {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now
	if deal.State == "" {
		deal.State = StateRequested
	}

	m.deals[deal.ID] = cloneDeal(deal)
	if !deal.State.Terminal() {
		m.active[deal.ListingID] = deal.ID
	}
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, id string) (*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deal, ok := m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	return cloneDeal(deal), nil
}

// Transition 实现 Store 接口。终态提交时释放房源占用。
func (m *MemoryStore) Transition(_ context.Context, id string, to State, lastError string) (*Deal, error) {
	if !IsValidState(to) {
		return nil, ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deal, ok := m.deals[id]
	if !ok {
		return nil, ErrDealNotFound
	}
	if !ValidTransition(deal.State, to) {
		return cloneDeal(deal), ErrInvalidTransition
	}

	deal.State = to
	deal.LastError = lastError
	deal.UpdatedAt = time.Now().Unix()
	if to.Terminal() {
		delete(m.active, deal.ListingID)
	}
	return cloneDeal(deal), nil
}

// List 实现 Store 接口。
func (m *MemoryStore) List(_ context.Context, limit int) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Deal, 0, len(m.deals))
	for _, deal := range m.deals {
		results = append(results, cloneDeal(deal))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID < results[j].ID
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}
