package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"serotonyl.ru/staking/internal/common"
)

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Commit(context.Context) error {
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.db.rollbacks++
	return nil
}

type fakeDB struct {
	begins, commits, rollbacks int
}

func (d *fakeDB) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if opts.IsoLevel != pgx.Serializable {
		return nil, fmt.Errorf("unexpected isolation %s", opts.IsoLevel)
	}
	d.begins++
	return &fakeTx{db: d}, nil
}

func serializationFailure() error {
	return fmt.Errorf("update balance: %w", &pgconn.PgError{Code: "40001"})
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return serializationFailure()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || db.begins != 3 || db.commits != 1 {
		t.Fatalf("calls=%d begins=%d commits=%d", calls, db.begins, db.commits)
	}
}

func TestWithTxDoesNotRetryDomainErrors(t *testing.T) {
	db := &fakeDB{}
	calls := 0
	err := WithTx(context.Background(), db, func(pgx.Tx) error {
		calls++
		return common.ErrInsufficientFunds
	})
	if !errors.Is(err, common.ErrInsufficientFunds) || calls != 1 || db.commits != 0 {
		t.Fatalf("err=%v calls=%d commits=%d", err, calls, db.commits)
	}
	if db.rollbacks != 1 {
		t.Fatalf("failed transaction must be rolled back")
	}
}

func TestWithTxStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := &fakeDB{}
	err := WithTx(ctx, db, func(pgx.Tx) error {
		cancel()
		return serializationFailure()
	})
	if !errors.Is(err, context.Canceled) || db.begins != 1 {
		t.Fatalf("err=%v begins=%d", err, db.begins)
	}
}

func TestErrorHelpers(t *testing.T) {
	if !IsRetryable(&pgconn.PgError{Code: "40P01"}) || IsRetryable(errors.New("boom")) {
		t.Fatalf("IsRetryable")
	}
	if !IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})) {
		t.Fatalf("IsUniqueViolation")
	}
	if !errors.Is(NotFound(pgx.ErrNoRows), common.ErrNotFound) {
		t.Fatalf("NotFound must map ErrNoRows")
	}
	other := errors.New("boom")
	if NotFound(other) != other {
		t.Fatalf("NotFound must pass other errors through")
	}
}
