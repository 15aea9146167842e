package kv

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGGetSetRemove(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	tier := NewPG(db)

	mock.ExpectExec("insert into kv_entries").
		WithArgs("session.token", `{"a":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := tier.Set(ctx, "session.token", `{"a":1}`, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mock.ExpectQuery("select value, expires_at from kv_entries").
		WithArgs("session.token").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).AddRow(`{"a":1}`, nil))
	got, err := tier.Get(ctx, "session.token")
	if err != nil || got != `{"a":1}` {
		t.Fatalf("Get: %q, %v", got, err)
	}

	mock.ExpectExec("delete from kv_entries").
		WithArgs("session.token").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := tier.Remove(ctx, "session.token"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select value, expires_at from kv_entries").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := NewPG(db).Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGGetExpiredRowIsDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	tier := NewPG(db)
	base := time.Now()
	tier.now = func() time.Time { return base }

	mock.ExpectQuery("select value, expires_at from kv_entries").
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"value", "expires_at"}).
			AddRow("old", base.Add(-time.Minute)))
	mock.ExpectExec("delete from kv_entries").
		WithArgs("stale").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := tier.Get(context.Background(), "stale"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for expired row, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
