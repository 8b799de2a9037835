package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Events ---

type Event struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, category, enabled, created_at FROM events WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Category, &e.Enabled, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// EnsureCollateralEvents creates the subscribe-able events for one asset.
// Idempotent; called once per registered collateral at startup.
func (s *Store) EnsureCollateralEvents(ctx context.Context, symbol string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (name, description, category) VALUES
			($1, $2, $3),
			($4, $5, $3)
		ON CONFLICT (name) DO NOTHING`,
		symbol+"_status_change", "Alert when "+symbol+" soundness changes", symbol,
		symbol+"_daily_report", "Daily 8am HKT "+symbol+" valuation report")
	return err
}

// --- Telegram Users ---

type TelegramUser struct {
	ID                int64     `json:"id"`
	TgChatID          int64     `json:"tg_chat_id"`
	TgUsername        string    `json:"tg_username"`
	LinkCode          string    `json:"link_code,omitempty"`
	LinkCodeExpiresAt time.Time `json:"link_code_expires_at,omitempty"`
	Linked            bool      `json:"linked"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *Store) UpsertTelegramUser(ctx context.Context, chatID int64, username, linkCode string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO telegram_users (tg_chat_id, tg_username, link_code, link_code_expires_at, linked)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (tg_chat_id) DO UPDATE
			SET link_code = $3, link_code_expires_at = $4, tg_username = $2`,
		chatID, username, linkCode, expiresAt)
	return err
}

func (s *Store) LinkByCode(ctx context.Context, code string) (*TelegramUser, error) {
	var u TelegramUser
	err := s.pool.QueryRow(ctx, `
		UPDATE telegram_users SET linked = true, link_code = NULL, link_code_expires_at = NULL
		WHERE link_code = $1 AND link_code_expires_at > now()
		RETURNING id, tg_chat_id, tg_username, linked, created_at`, code).
		Scan(&u.ID, &u.TgChatID, &u.TgUsername, &u.Linked, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UnlinkTelegram(ctx context.Context, chatID int64) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM subscriptions WHERE tg_user_id = (SELECT id FROM telegram_users WHERE tg_chat_id = $1)`, chatID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE telegram_users SET linked = false WHERE tg_chat_id = $1`, chatID)
	return err
}

func (s *Store) GetTelegramUser(ctx context.Context, chatID int64) (*TelegramUser, error) {
	var u TelegramUser
	err := s.pool.QueryRow(ctx, `
		SELECT id, tg_chat_id, tg_username, linked, created_at
		FROM telegram_users WHERE tg_chat_id = $1`, chatID).
		Scan(&u.ID, &u.TgChatID, &u.TgUsername, &u.Linked, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Subscriptions ---

type Subscription struct {
	ID        int64     `json:"id"`
	TgUserID  int64     `json:"tg_user_id"`
	EventID   int       `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) ListSubscriptions(ctx context.Context, tgChatID int64) ([]Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.tg_user_id, s.event_id, s.created_at
		FROM subscriptions s
		JOIN telegram_users u ON u.id = s.tg_user_id
		WHERE u.tg_chat_id = $1
		ORDER BY s.id`, tgChatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.TgUserID, &sub.EventID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) Subscribe(ctx context.Context, tgChatID int64, eventID int) (*Subscription, error) {
	var sub Subscription
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (tg_user_id, event_id)
		SELECT u.id, $2 FROM telegram_users u WHERE u.tg_chat_id = $1
		RETURNING id, tg_user_id, event_id, created_at`,
		tgChatID, eventID).
		Scan(&sub.ID, &sub.TgUserID, &sub.EventID, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) Unsubscribe(ctx context.Context, subID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, subID)
	return err
}

func (s *Store) GetSubscriberChatIDs(ctx context.Context, eventName string) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT u.tg_chat_id
		FROM subscriptions s
		JOIN telegram_users u ON u.id = s.tg_user_id
		JOIN events e ON e.id = s.event_id
		WHERE e.name = $1 AND u.linked = true`, eventName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountSubscriptions returns the number of active subscriptions for an event.
func (s *Store) CountSubscriptions(ctx context.Context, eventName string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM subscriptions s
		JOIN events e ON e.id = s.event_id
		WHERE e.name = $1`, eventName).Scan(&count)
	return count, err
}

// CountLinkedUsers returns the number of linked Telegram users.
func (s *Store) CountLinkedUsers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM telegram_users WHERE linked = true`).Scan(&count)
	return count, err
}

// --- Status transitions ---

type StatusTransition struct {
	ID         int64     `json:"id"`
	Symbol     string    `json:"symbol"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *Store) InsertTransition(ctx context.Context, t *StatusTransition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO status_transitions (symbol, from_status, to_status, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.Symbol, t.FromStatus, t.ToStatus, t.Reason, t.OccurredAt)
	return err
}

func (s *Store) ListTransitions(ctx context.Context, symbol string, limit int) ([]StatusTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, symbol, from_status, to_status, reason, occurred_at
		FROM status_transitions
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY occurred_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusTransition
	for rows.Next() {
		var t StatusTransition
		if err := rows.Scan(&t.ID, &t.Symbol, &t.FromStatus, &t.ToStatus, &t.Reason, &t.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Rate samples ---

// RateSample records one refresh observation. Decimal values are stored as
// their exact string form; nothing downstream does SQL arithmetic on them.
type RateSample struct {
	Symbol      string
	RawRate     string
	ExposedRate string
	PriceLow    string
	PriceHigh   string
	PegPrice    string
	SampledAt   time.Time
}

func (s *Store) InsertRateSample(ctx context.Context, r *RateSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_samples (symbol, raw_rate, exposed_rate, price_low, price_high, peg_price, sampled_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)`,
		r.Symbol, r.RawRate, r.ExposedRate, r.PriceLow, r.PriceHigh, r.PegPrice, r.SampledAt)
	return err
}

// CleanupOldRateSamples deletes samples older than the given age.
func (s *Store) CleanupOldRateSamples(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM rate_samples WHERE sampled_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Reward claims ---

func (s *Store) InsertRewardClaim(ctx context.Context, symbol, amount string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reward_claims (symbol, amount, claimed_at) VALUES ($1, $2, $3)`,
		symbol, amount, at)
	return err
}

// --- Notifications ---

type NotificationLog struct {
	ID        int64     `json:"id"`
	TgChatID  int64     `json:"tg_chat_id"`
	Symbol    string    `json:"symbol"`
	EventName string    `json:"event_name"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

func (s *Store) InsertNotification(ctx context.Context, chatID int64, symbol, eventName, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (tg_chat_id, symbol, event_name, message)
		VALUES ($1, $2, $3, $4)`, chatID, symbol, eventName, message)
	return err
}

func (s *Store) ListNotifications(ctx context.Context, tgChatID int64, limit int) ([]NotificationLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tg_chat_id, symbol, event_name, message, sent_at
		FROM notifications
		WHERE tg_chat_id = $1
		ORDER BY sent_at DESC
		LIMIT $2`, tgChatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []NotificationLog
	for rows.Next() {
		var n NotificationLog
		if err := rows.Scan(&n.ID, &n.TgChatID, &n.Symbol, &n.EventName, &n.Message, &n.SentAt); err != nil {
			return nil, err
		}
		logs = append(logs, n)
	}
	return logs, rows.Err()
}
