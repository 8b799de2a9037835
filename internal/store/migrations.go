package store

import "context"

const migrationSQL = `
CREATE TABLE IF NOT EXISTS events (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT 'general',
    enabled BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS telegram_users (
    id BIGSERIAL PRIMARY KEY,
    tg_chat_id BIGINT NOT NULL UNIQUE,
    tg_username TEXT NOT NULL DEFAULT '',
    link_code TEXT UNIQUE,
    link_code_expires_at TIMESTAMPTZ,
    linked BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id BIGSERIAL PRIMARY KEY,
    tg_user_id BIGINT NOT NULL REFERENCES telegram_users(id) ON DELETE CASCADE,
    event_id INT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(tg_user_id, event_id)
);

CREATE TABLE IF NOT EXISTS status_transitions (
    id BIGSERIAL PRIMARY KEY,
    symbol TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_transitions_symbol ON status_transitions (symbol, occurred_at DESC);

CREATE TABLE IF NOT EXISTS rate_samples (
    id BIGSERIAL PRIMARY KEY,
    symbol TEXT NOT NULL,
    raw_rate TEXT NOT NULL,
    exposed_rate TEXT NOT NULL,
    price_low TEXT,
    price_high TEXT,
    peg_price TEXT,
    sampled_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rate_samples_symbol ON rate_samples (symbol, sampled_at DESC);

CREATE TABLE IF NOT EXISTS reward_claims (
    id BIGSERIAL PRIMARY KEY,
    symbol TEXT NOT NULL,
    amount TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notifications (
    id BIGSERIAL PRIMARY KEY,
    tg_chat_id BIGINT NOT NULL,
    symbol TEXT NOT NULL DEFAULT '',
    event_name TEXT NOT NULL,
    message TEXT NOT NULL,
    sent_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_notifications_chat ON notifications (tg_chat_id, sent_at DESC);

-- Seed portfolio-level events (idempotent); per-asset events are created
-- when collaterals register.
INSERT INTO events (name, description, category) VALUES
    ('portfolio_daily_report', 'Daily 8am HKT portfolio backing report', 'portfolio')
ON CONFLICT (name) DO NOTHING;
`

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migrationSQL)
	return err
}
