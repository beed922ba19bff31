package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TradeRow is one trade event stored in the DB. Kind distinguishes order
// placements, observed fills and cancellations. Sell rows carry the buy order
// they realize in RefID.
type TradeRow struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	Symbol     string    `json:"symbol"`
	OrderID    string    `json:"order_id"`
	RefID      string    `json:"ref_id,omitempty"`
	Side       string    `json:"side"`
	Kind       string    `json:"kind"`
	Price      float64   `json:"price"`
	Amount     float64   `json:"amount"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PairStatusRow is the persisted activity flag for one account/symbol pair.
type PairStatusRow struct {
	Account   string
	Symbol    string
	Active    bool
	Reason    string
	UpdatedAt time.Time
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InsertTrades writes a batch of trade rows in one transaction.
func (d *Database) InsertTrades(ctx context.Context, rows []TradeRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (account, symbol, order_id, ref_id, side, kind, price, amount, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Account, r.Symbol, r.OrderID, r.RefID, r.Side, r.Kind, r.Price, r.Amount, r.RecordedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTrades returns trade rows, newest first. Empty account or symbol
// matches everything.
func (d *Database) ListTrades(ctx context.Context, account, symbol string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account, symbol, order_id, ref_id, side, kind, price, amount, recorded_at
		FROM trades
		WHERE (? = '' OR account = ?) AND (? = '' OR symbol = ?)
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, account, account, symbol, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TradeRow
	for rows.Next() {
		var r TradeRow
		if err := rows.Scan(&r.ID, &r.Account, &r.Symbol, &r.OrderID, &r.RefID, &r.Side, &r.Kind, &r.Price, &r.Amount, &r.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

// DailyLossFraction aggregates a pair's realized loss since t as a fraction
// of invested buy notional. Sell placements are joined to the buy fills they
// realize through ref_id; profitable matches contribute zero loss.
func (d *Database) DailyLossFraction(ctx context.Context, account, symbol string, since time.Time) (float64, error) {
	var loss, invested float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN b.price > s.price THEN (b.price - s.price) * s.amount ELSE 0 END), 0),
			COALESCE(SUM(b.price * b.amount), 0)
		FROM trades s
		JOIN trades b
			ON b.order_id = s.ref_id
			AND b.account = s.account AND b.symbol = s.symbol
			AND b.side = 'buy' AND b.kind = 'fill'
			AND b.recorded_at >= ?
		WHERE s.account = ? AND s.symbol = ?
			AND s.side = 'sell' AND s.kind = 'place' AND s.ref_id != ''
			AND s.recorded_at >= ?
	`, since, account, symbol, since).Scan(&loss, &invested)
	if err != nil {
		return 0, err
	}
	if invested == 0 {
		return 0, nil
	}
	return loss / invested, nil
}

// CountTradesSince returns the number of trade rows recorded at or after t.
func (d *Database) CountTradesSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM trades WHERE recorded_at >= ?
	`, t).Scan(&n)
	return n, err
}

// UpsertPairStatus stores the latest activity flag for a pair.
func (d *Database) UpsertPairStatus(ctx context.Context, p PairStatusRow) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO pair_status (account, symbol, active, reason, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account, symbol) DO UPDATE SET
			active = excluded.active,
			reason = excluded.reason,
			updated_at = CURRENT_TIMESTAMP
	`, p.Account, p.Symbol, p.Active, p.Reason)
	return err
}

// ListPairStatus returns the persisted flags for all pairs.
func (d *Database) ListPairStatus(ctx context.Context) ([]PairStatusRow, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT account, symbol, active, reason, updated_at
		FROM pair_status
		ORDER BY account, symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []PairStatusRow
	for rows.Next() {
		var p PairStatusRow
		if err := rows.Scan(&p.Account, &p.Symbol, &p.Active, &p.Reason, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
