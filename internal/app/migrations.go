package app

import "serotonyl.ru/staking/internal/db/postgres"

// migrations — версии схемы в порядке применения.
var migrations = []postgres.Migration{
	{Version: 1, Name: "accounts", SQL: migration001Accounts},
	{Version: 2, Name: "referrals", SQL: migration002Referrals},
	{Version: 3, Name: "stakes", SQL: migration003Stakes},
	{Version: 4, Name: "commissions", SQL: migration004Commissions},
	{Version: 5, Name: "admin", SQL: migration005Admin},
}

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    telegram_chat_id BIGINT UNIQUE,
    wallet_balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
    staked_balance NUMERIC(20, 2) NOT NULL DEFAULT 0 CHECK (staked_balance >= 0),
    referral_code TEXT NOT NULL UNIQUE,
    referred_by BIGINT REFERENCES accounts(id),
    referral_earnings NUMERIC(20, 2) NOT NULL DEFAULT 0,
    level_income NUMERIC(20, 2) NOT NULL DEFAULT 0,
    level1_income NUMERIC(20, 2) NOT NULL DEFAULT 0,
    level2_income NUMERIC(20, 2) NOT NULL DEFAULT 0,
    level3_income NUMERIC(20, 2) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_accounts_referred_by ON accounts(referred_by);

CREATE TABLE IF NOT EXISTS deposits (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES accounts(id),
    amount NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
    reference TEXT NOT NULL DEFAULT '',
    approved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_deposits_user_id ON deposits(user_id);
`

var migration002Referrals = `
CREATE TABLE IF NOT EXISTS referral_links (
    id BIGSERIAL PRIMARY KEY,
    ancestor_id BIGINT NOT NULL REFERENCES accounts(id),
    descendant_id BIGINT NOT NULL REFERENCES accounts(id),
    level SMALLINT NOT NULL CHECK (level BETWEEN 1 AND 3),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (ancestor_id, descendant_id)
);
CREATE INDEX IF NOT EXISTS idx_referral_links_descendant ON referral_links(descendant_id);
`

var migration003Stakes = `
CREATE TABLE IF NOT EXISTS stakes (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES accounts(id),
    original_amount NUMERIC(20, 2) NOT NULL CHECK (original_amount > 0),
    current_amount NUMERIC(20, 2) NOT NULL,
    total_profit NUMERIC(20, 2) NOT NULL DEFAULT 0,
    start_date TIMESTAMPTZ NOT NULL,
    unlock_date TIMESTAMPTZ NOT NULL,
    lock_period INTEGER NOT NULL CHECK (lock_period > 0),
    status TEXT NOT NULL DEFAULT 'locked' CHECK (status IN ('locked', 'unlocked')),
    cycle INTEGER NOT NULL DEFAULT 1,
    auto_relock BOOLEAN NOT NULL DEFAULT TRUE,
    auto_relock_at TIMESTAMPTZ,
    accrued_through DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stakes_user_id ON stakes(user_id);
CREATE INDEX IF NOT EXISTS idx_stakes_status_unlock ON stakes(status, unlock_date);
CREATE INDEX IF NOT EXISTS idx_stakes_auto_relock ON stakes(auto_relock, auto_relock_at);

CREATE TABLE IF NOT EXISTS stake_profit_entries (
    id BIGSERIAL PRIMARY KEY,
    stake_id BIGINT NOT NULL REFERENCES stakes(id) ON DELETE CASCADE,
    cycle INTEGER NOT NULL,
    accrual_date DATE NOT NULL,
    amount NUMERIC(20, 2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (stake_id, cycle, accrual_date)
);

CREATE TABLE IF NOT EXISTS stakes_archive (
    stake_id BIGINT PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES accounts(id),
    snapshot JSONB NOT NULL,
    withdrawn_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stakes_archive_user ON stakes_archive(user_id, withdrawn_at DESC);
`

var migration004Commissions = `
CREATE TABLE IF NOT EXISTS commission_events (
    id UUID PRIMARY KEY,
    source_user_id BIGINT NOT NULL REFERENCES accounts(id),
    kind TEXT NOT NULL,
    amount NUMERIC(20, 2) NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_commission_events_pending ON commission_events(status, created_at);

CREATE TABLE IF NOT EXISTS commission_entries (
    id BIGSERIAL PRIMARY KEY,
    event_id UUID NOT NULL REFERENCES commission_events(id),
    beneficiary_id BIGINT NOT NULL REFERENCES accounts(id),
    source_user_id BIGINT NOT NULL REFERENCES accounts(id),
    level SMALLINT NOT NULL CHECK (level BETWEEN 1 AND 3),
    rate NUMERIC(6, 4) NOT NULL,
    amount NUMERIC(20, 2) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (event_id, beneficiary_id, level)
);
CREATE INDEX IF NOT EXISTS idx_commission_entries_beneficiary ON commission_entries(beneficiary_id, id);
`

var migration005Admin = `
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    source TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_admin_login_attempts_source ON admin_login_attempts(source, attempt_time DESC);
`
