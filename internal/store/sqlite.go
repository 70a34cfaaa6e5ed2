package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ladder_bot/internal/domain"

	_ "modernc.org/sqlite"
)

// Repository 巡检流水与订单留档，是每轮巡检和每笔券商提交的审计记录。
type Repository interface {
	Init(ctx context.Context) error
	Close() error

	CreatePass(ctx context.Context, report domain.PassReport) error
	FinishPass(ctx context.Context, report domain.PassReport) error
	InsertPassEvent(ctx context.Context, event domain.PassEvent) error
	InsertOrder(ctx context.Context, order domain.PlacedOrder) error

	GetPassReport(ctx context.Context, passID string) (domain.PassReport, error)
	ListPasses(ctx context.Context, page, pageSize int) ([]domain.PassReport, error)
	CountPasses(ctx context.Context) (int, error)
	ListOrders(ctx context.Context, symbol string, limit int) ([]domain.PlacedOrder, error)

	ResetAllData(ctx context.Context) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dsn string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS passes (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			symbols INTEGER NOT NULL DEFAULT 0,
			orders_placed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS pass_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pass_id TEXT NOT NULL,
			symbol TEXT,
			stage TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (pass_id) REFERENCES passes(id)
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			pass_id TEXT,
			client_order_id TEXT NOT NULL UNIQUE,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			type TEXT NOT NULL,
			qty REAL NOT NULL,
			limit_price REAL,
			rung INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			broker_order_id TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (pass_id) REFERENCES passes(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_pass_id ON pass_events(pass_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_pass_id ON orders(pass_id);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepository) CreatePass(ctx context.Context, report domain.PassReport) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO passes (id, status, symbols, orders_placed, error_message, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		report.ID,
		string(report.Status),
		report.Symbols,
		report.OrdersPlaced,
		nullableString(report.ErrorMessage),
		report.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pass: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) FinishPass(ctx context.Context, report domain.PassReport) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE passes SET status = ?, symbols = ?, orders_placed = ?, error_message = ?, finished_at = ? WHERE id = ?`,
		string(report.Status),
		report.Symbols,
		report.OrdersPlaced,
		nullableString(report.ErrorMessage),
		report.FinishedAt.UTC(),
		report.ID,
	)
	if err != nil {
		return fmt.Errorf("update pass: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertPassEvent(ctx context.Context, event domain.PassEvent) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO pass_events (pass_id, symbol, stage, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.PassID,
		nullableString(event.Symbol),
		event.Stage,
		event.Message,
		event.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert pass event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertOrder(ctx context.Context, order domain.PlacedOrder) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO orders (id, pass_id, client_order_id, symbol, side, type, qty, limit_price, rung, status, broker_order_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		nullableString(order.PassID),
		order.ClientOrderID,
		order.Symbol,
		order.Side,
		order.Type,
		order.Qty,
		nullableFloat(order.LimitPrice),
		order.Rung,
		order.Status,
		nullableString(order.BrokerOrderID),
		order.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetPassReport(ctx context.Context, passID string) (domain.PassReport, error) {
	var report domain.PassReport
	var status, errMsg sql.NullString
	var finishedAt sql.NullTime

	err := r.db.QueryRowContext(
		ctx,
		`SELECT id, status, symbols, orders_placed, error_message, started_at, finished_at FROM passes WHERE id = ?`,
		passID,
	).Scan(&report.ID, &status, &report.Symbols, &report.OrdersPlaced, &errMsg, &report.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return report, fmt.Errorf("pass %s not found", passID)
		}
		return report, fmt.Errorf("query pass: %w", err)
	}

	report.Status = domain.PassStatus(status.String)
	if errMsg.Valid {
		report.ErrorMessage = errMsg.String
	}
	if finishedAt.Valid {
		report.FinishedAt = finishedAt.Time
	}

	events, err := r.getEvents(ctx, passID)
	if err != nil {
		return report, err
	}
	report.Events = events

	return report, nil
}

func (r *SQLiteRepository) getEvents(ctx context.Context, passID string) ([]domain.PassEvent, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, pass_id, COALESCE(symbol, ''), stage, message, created_at FROM pass_events WHERE pass_id = ? ORDER BY id ASC`,
		passID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.PassEvent, 0)
	for rows.Next() {
		var e domain.PassEvent
		if scanErr := rows.Scan(&e.ID, &e.PassID, &e.Symbol, &e.Stage, &e.Message, &e.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan events: %w", scanErr)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountPasses 统计巡检总数
func (r *SQLiteRepository) CountPasses(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM passes").Scan(&count)
	return count, err
}

// ListPasses 分页查询巡检记录（不含事件明细）
func (r *SQLiteRepository) ListPasses(ctx context.Context, page, pageSize int) ([]domain.PassReport, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 15
	}
	offset := (page - 1) * pageSize

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, symbols, orders_placed, COALESCE(error_message, ''), started_at, finished_at
		FROM passes
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("查询巡检列表: %w", err)
	}
	defer rows.Close()

	results := make([]domain.PassReport, 0, pageSize)
	for rows.Next() {
		var p domain.PassReport
		var status string
		var finishedAt sql.NullTime
		if err := rows.Scan(&p.ID, &status, &p.Symbols, &p.OrdersPlaced, &p.ErrorMessage, &p.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("扫描巡检记录: %w", err)
		}
		p.Status = domain.PassStatus(status)
		if finishedAt.Valid {
			p.FinishedAt = finishedAt.Time
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// ListOrders 查询订单留档，symbol 为空时返回全部
func (r *SQLiteRepository) ListOrders(ctx context.Context, symbol string, limit int) ([]domain.PlacedOrder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, COALESCE(pass_id, ''), client_order_id, symbol, side, type, qty, limit_price, rung, status, COALESCE(broker_order_id, ''), created_at
		FROM orders`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询订单列表: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.PlacedOrder, 0)
	for rows.Next() {
		var o domain.PlacedOrder
		var limitPrice sql.NullFloat64
		if err := rows.Scan(&o.ID, &o.PassID, &o.ClientOrderID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &limitPrice, &o.Rung, &o.Status, &o.BrokerOrderID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("扫描订单记录: %w", err)
		}
		if limitPrice.Valid {
			o.LimitPrice = limitPrice.Float64
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ResetAllData 清空所有业务数据（保留表结构）
func (r *SQLiteRepository) ResetAllData(ctx context.Context) error {
	tables := []string{"pass_events", "orders", "passes"}
	for _, t := range tables {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("清空表 %s 失败: %w", t, err)
		}
	}
	// 重置自增 ID
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
		// sqlite_sequence 可能不存在，忽略
		_ = err
	}
	return nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}
