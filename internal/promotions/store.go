package promotions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/loyalty-whatsapp/internal/whatsapp"
)

// DefaultHistoryLimit caps ListHistory when no limit is given.
const DefaultHistoryLimit = 100

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads promotions and customers and records send outcomes in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) GetPromotion(ctx context.Context, id int64) (*Promotion, error) {
	query := `
		SELECT id, title, description, category_id, COALESCE(custom_message, ''), active
		FROM promotions
		WHERE id = $1
	`
	var p Promotion
	var category sql.NullInt64
	err := s.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Title, &p.Description, &category, &p.CustomMessage, &p.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPromotionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("promotions: get promotion: %w", err)
	}
	if category.Valid {
		p.CategoryID = &category.Int64
	}
	return &p, nil
}

// ListRecipients returns active customers that accept promotions, limited to
// categoryID when set.
func (s *Store) ListRecipients(ctx context.Context, categoryID *int64) ([]whatsapp.Recipient, error) {
	query := `
		SELECT id, name, phone
		FROM customers
		WHERE active = true AND accepts_promotions = true
		ORDER BY id
	`
	var args []any
	if categoryID != nil {
		query = `
		SELECT id, name, phone
		FROM customers
		WHERE category_id = $1 AND active = true AND accepts_promotions = true
		ORDER BY id
	`
		args = append(args, *categoryID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("promotions: list recipients: %w", err)
	}
	defer rows.Close()

	var out []whatsapp.Recipient
	for rows.Next() {
		var r whatsapp.Recipient
		var phone sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &phone); err != nil {
			return nil, fmt.Errorf("promotions: scan recipient: %w", err)
		}
		r.Phone = phone.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("promotions: list recipients: %w", err)
	}
	return out, nil
}

// RecordOutcomes stores one sent_messages row per outcome in a single
// transaction. promotionID 0 records messages not tied to a promotion.
func (s *Store) RecordOutcomes(ctx context.Context, promotionID int64, outcomes []whatsapp.DispatchOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("promotions: begin record outcomes: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO sent_messages (customer_id, promotion_id, batch_id, phone, message, status,
			gateway_message_id, error_detail, sent_at)
		VALUES (NULLIF($1::bigint, 0), NULLIF($2::bigint, 0), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`
	for _, o := range outcomes {
		status := StatusError
		var sentAt *time.Time
		if o.Success {
			status = StatusSent
			ts := o.Timestamp
			sentAt = &ts
		}
		phone := o.Address
		if phone == "" {
			phone = o.Recipient.Phone
		}
		if _, err := tx.Exec(ctx, query, o.Recipient.ID, promotionID, o.BatchID, phone, o.Message, status, o.MessageID, o.Error, sentAt); err != nil {
			return fmt.Errorf("promotions: insert sent message: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("promotions: commit record outcomes: %w", err)
	}
	return nil
}

// ListHistory returns the most recent sends, newest first.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `
		SELECT m.id, m.customer_id, COALESCE(c.name, ''), COALESCE(c.phone, m.phone),
			m.promotion_id, COALESCE(p.title, ''), COALESCE(m.batch_id, ''), m.message, m.status,
			COALESCE(m.gateway_message_id, ''), COALESCE(m.error_detail, ''), m.sent_at, m.created_at
		FROM sent_messages m
		LEFT JOIN customers c ON m.customer_id = c.id
		LEFT JOIN promotions p ON m.promotion_id = p.id
		ORDER BY m.created_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("promotions: list history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var customerID, promotionID sql.NullInt64
		var sentAt sql.NullTime
		if err := rows.Scan(&h.ID, &customerID, &h.CustomerName, &h.CustomerPhone, &promotionID, &h.PromotionTitle,
			&h.BatchID, &h.Message, &h.Status, &h.GatewayMessageID, &h.ErrorDetail, &sentAt, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("promotions: scan history: %w", err)
		}
		if customerID.Valid {
			id := customerID.Int64
			h.CustomerID = &id
		}
		if promotionID.Valid {
			id := promotionID.Int64
			h.PromotionID = &id
		}
		if sentAt.Valid {
			ts := sentAt.Time
			h.SentAt = &ts
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("promotions: list history: %w", err)
	}
	return out, nil
}
