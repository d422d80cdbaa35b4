package deal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"EstateChain/deploy/migrations"
	xerrors "EstateChain/internal/errors"
)

// MySQLConfig 描述 MySQL 存储的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore 将交易记录落到 MySQL，保证进程重启后非终态交易不丢失。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并应用内嵌的 SQL 迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{db: db}, nil
}

// applyMigrations 按文件名顺序执行内嵌的迁移脚本。脚本全部幂等，可以重复执行。
func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件失败")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		script, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("读取迁移 %s 失败", name))
		}
		if _, err := db.ExecContext(ctx, string(script)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("执行迁移 %s 失败", name))
		}
	}
	return nil
}

// Begin 实现 Store 接口。
// 通过事务内的行锁检查房源占用，保证并发请求下只有一笔交易成功登记。
func (s *MySQLStore) Begin(ctx context.Context, deal *Deal) error {
	if deal == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "deal 不能为空")
	}
	if deal.ID == "" || deal.ListingID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易缺少 ID 或房源编号")
	}

	now := time.Now().Unix()
	if deal.CreatedAt == 0 {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now
	if deal.State == "" {
		deal.State = StateRequested
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	var occupied string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM deals WHERE listing_id = ? AND state NOT IN (?, ?) LIMIT 1 FOR UPDATE`,
		deal.ListingID, string(StateCompleted), string(StateFailed),
	).Scan(&occupied)
	switch {
	case err == nil:
		return ErrDealConflict
	case stdErrors.Is(err, sql.ErrNoRows):
		// 房源未被占用，继续登记。
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询房源占用状态失败")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO deals (id, buyer, seller, listing_id, offer_price, state, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deal.ID, deal.Buyer, deal.Seller, deal.ListingID, deal.OfferPrice,
		string(deal.State), deal.LastError, deal.CreatedAt, deal.UpdatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易记录失败")
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交交易记录失败")
	}
	return nil
}

// Get 实现 Store 接口。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Deal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, buyer, seller, listing_id, offer_price, state, last_error, created_at, updated_at
		 FROM deals WHERE id = ?`, id)
	deal, err := scanDeal(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易记录失败")
	}
	return deal, nil
}

// Transition 实现 Store 接口。
func (s *MySQLStore) Transition(ctx context.Context, id string, to State, lastError string) (*Deal, error) {
	if !IsValidState(to) {
		return nil, ErrInvalidTransition
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT id, buyer, seller, listing_id, offer_price, state, last_error, created_at, updated_at
		 FROM deals WHERE id = ? FOR UPDATE`, id)
	deal, err := scanDeal(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrDealNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易记录失败")
	}
	if !ValidTransition(deal.State, to) {
		return deal, ErrInvalidTransition
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE deals SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(to), lastError, now, id,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易状态失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交状态迁移失败")
	}

	deal.State = to
	deal.LastError = lastError
	deal.UpdatedAt = now
	return deal, nil
}

// List 实现 Store 接口。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Deal, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, buyer, seller, listing_id, offer_price, state, last_error, created_at, updated_at
		 FROM deals ORDER BY updated_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易列表失败")
	}
	defer rows.Close()

	var results []*Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交易记录失败")
		}
		results = append(results, deal)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易列表失败")
	}
	return results, nil
}

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (*Deal, error) {
	var deal Deal
	var state string
	var lastError sql.NullString
	if err := row.Scan(&deal.ID, &deal.Buyer, &deal.Seller, &deal.ListingID,
		&deal.OfferPrice, &state, &lastError, &deal.CreatedAt, &deal.UpdatedAt); err != nil {
		return nil, err
	}
	deal.State = State(state)
	if lastError.Valid {
		deal.LastError = lastError.String
	}
	if !IsValidState(deal.State) {
		return nil, fmt.Errorf("非法的交易状态: %s", state)
	}
	return &deal, nil
}
