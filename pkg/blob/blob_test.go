package blob

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, "records/2026-09-01/s_1.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	body, err := store.Get(ctx, "records/2026-09-01/s_1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != `{"a":1}` {
		t.Fatalf("unexpected body %s", body)
	}

	// Last write wins per key.
	if err := store.Put(ctx, "records/2026-09-01/s_1.json", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	body, _ = store.Get(ctx, "records/2026-09-01/s_1.json")
	if string(body) != `{"a":2}` {
		t.Fatalf("expected overwrite, got %s", body)
	}
}

func TestMemoryStoreCopiesBodies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	src := []byte("original")
	_ = store.Put(ctx, "k", src)
	src[0] = 'X'
	body, _ := store.Get(ctx, "k")
	if string(body) != "original" {
		t.Fatalf("stored body must not alias caller memory, got %s", body)
	}
}

type fakeRow struct {
	body []byte
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.body
	return nil
}

type fakeDB struct {
	execSQL  []string
	execArgs [][]any
	rows     map[string]fakeRow
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	key, _ := args[0].(string)
	row, ok := f.rows[key]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func TestPostgresStorePut(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{}}
	store := &PostgresStore{DB: db}
	if err := store.Put(context.Background(), "manifest.json", []byte(`{}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(db.execSQL) != 1 || len(db.execArgs[0]) != 3 {
		t.Fatalf("expected one upsert with three args, got %v", db.execArgs)
	}
	if db.execArgs[0][0] != "manifest.json" {
		t.Fatalf("unexpected key arg %v", db.execArgs[0][0])
	}
}

func TestPostgresStoreGet(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{"manifest.json": {body: []byte(`{"files":[]}`)}}}
	store := &PostgresStore{DB: db}

	body, err := store.Get(context.Background(), "manifest.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != `{"files":[]}` {
		t.Fatalf("unexpected body %s", body)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound mapping for pgx.ErrNoRows, got %v", err)
	}
}
