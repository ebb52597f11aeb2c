package migrate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testFiles() fstest.MapFS {
	return fstest.MapFS{
		"0001_roles.up.sql":   {Data: []byte("-- roles\nCREATE TABLE roles (name TEXT PRIMARY KEY);\n")},
		"0001_roles.down.sql": {Data: []byte("DROP TABLE roles;")},
		"0002_users.up.sql":   {Data: []byte("CREATE TABLE users (id TEXT);\nINSERT INTO roles VALUES ('a;b');\n")},
		"0002_users.down.sql": {Data: []byte("DROP TABLE users;")},
		"README.md":           {Data: []byte("ignored")},
	}
}

func newMock(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewManager(db, testFiles(), WithClock(func() time.Time { return fixedNow })), mock
}

func expectEnsure(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("create table if not exists schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectHistory(mock sqlmock.Sqlmock, names ...string) {
	rows := sqlmock.NewRows([]string{"name"})
	for _, name := range names {
		rows.AddRow(name)
	}
	mock.ExpectQuery(regexp.QuoteMeta("select name from schema_migrations")).WillReturnRows(rows)
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mgr, mock := newMock(t)

	expectEnsure(mock)
	expectHistory(mock, "0001_roles.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE users (id TEXT)")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO roles VALUES ('a;b')")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("insert into schema_migrations")).
		WithArgs("0002_users.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := mgr.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_users.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackOnFailure(t *testing.T) {
	mgr, mock := newMock(t)

	expectEnsure(mock)
	expectHistory(mock)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE roles")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := mgr.Up(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(applied) != 0 {
		t.Fatalf("nothing should be reported applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	mgr, mock := newMock(t)

	expectEnsure(mock)
	expectHistory(mock, "0001_roles.up.sql", "0002_users.up.sql")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE users")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("delete from schema_migrations where name = $1")).
		WithArgs("0002_users.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	reverted, err := mgr.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if reverted != "0002_users.up.sql" {
		t.Fatalf("unexpected reverted migration: %s", reverted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	mgr, mock := newMock(t)

	expectEnsure(mock)
	expectHistory(mock)

	if _, err := mgr.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestPending(t *testing.T) {
	mgr, mock := newMock(t)

	expectEnsure(mock)
	expectHistory(mock, "0001_roles.up.sql")

	pending, err := mgr.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != "0002_users.up.sql" {
		t.Fatalf("unexpected pending list: %v", pending)
	}
}

func TestSplitStatements(t *testing.T) {
	src := "-- header\nCREATE TABLE a (x TEXT);\n\nINSERT INTO a VALUES ('x;y');\n-- trailing\n"
	got := splitStatements(src)
	want := []string{"CREATE TABLE a (x TEXT)", "INSERT INTO a VALUES ('x;y')"}
	if len(got) != len(want) {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}
