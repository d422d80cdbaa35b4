package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	xerrors "EstateChain/internal/errors"
)

// MemoryLedger 以内存方式模拟外部账本，主要用于本地运行与测试。
// 记录按写入顺序保存，GetAll 的返回顺序即写入顺序。
type MemoryLedger struct {
	mu      sync.RWMutex
	seq     uint64
	records map[Kind][]Record
}

// NewMemoryLedger 创建 MemoryLedger。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[Kind][]Record)}
}

// Put 实现 Client 接口，分配自增 ID 并注入到记录载荷中。
func (m *MemoryLedger) Put(_ context.Context, kind Kind, payload any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化账本记录失败")
	}

	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "账本记录必须是对象")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := strconv.FormatUint(m.seq, 10)
	fields["id"] = id

	stored, err := json.Marshal(fields)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化账本记录失败")
	}
	m.records[kind] = append(m.records[kind], Record{ID: id, Payload: stored})
	return id, nil
}

// GetAll 实现 Client 接口。
func (m *MemoryLedger) GetAll(_ context.Context, kind Kind) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.records[kind]
	results := make([]Record, len(stored))
	copy(results, stored)
	return results, nil
}

// Close 对内存账本无需操作。
func (m *MemoryLedger) Close() error {
	return nil
}
