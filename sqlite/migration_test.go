package sqlite_test

import (
	"testing"
	"testing/fstest"

	dsqlite "bsid.es/diana/sqlite"
	"bsid.es/diana/sqlite/migration"
	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

func TestMigrate(t *testing.T) {
	conn := mustOpenConn(t)
	defer mustCloseConn(t, conn)

	fsys := make(fstest.MapFS, 3)
	steps := []struct {
		name     string
		file     string
		data     string
		from, to int
		table    string
	}{
		{name: "empty filesystem", from: 0, to: 0},
		{name: "first script", file: "0000.sql", data: "create table t1 (a text);", from: 0, to: 1, table: "t1"},
		{name: "second script", file: "0001.sql", data: "-- second\ncreate table t2 (a text);\ncreate index t2_a on t2 (a);", from: 1, to: 2, table: "t2"},
		{name: "non-sql file", file: "0002.txt", data: "create table t3 (a text);", from: 2, to: 2},
	}
	for _, step := range steps {
		if step.file != "" {
			fsys[step.file] = &fstest.MapFile{Data: []byte(step.data)}
		}
		from, to, err := dsqlite.Migrate(conn, fsys)
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if from != step.from || to != step.to {
			t.Errorf("%s: wrong versions\ngot:  %d -> %d\nwant: %d -> %d", step.name, from, to, step.from, step.to)
		}
		assertVersion(t, conn, step.to)
		if step.table != "" {
			assertTableExists(t, conn, step.table)
		}
	}
	assertTableDoesNotExist(t, conn, "t3")
}

func TestMigrateRollsBack(t *testing.T) {
	conn := mustOpenConn(t)
	defer mustCloseConn(t, conn)

	fsys := fstest.MapFS{
		"0000.sql": &fstest.MapFile{Data: []byte("create table t1 (a text);")},
		"0001.sql": &fstest.MapFile{Data: []byte("create tabel t2 (a text);")},
	}
	if _, _, err := dsqlite.Migrate(conn, fsys); err == nil {
		t.Fatal("expected error")
	}
	assertVersion(t, conn, 0)
	assertTableDoesNotExist(t, conn, "t1")
}

func TestMigrateScripts(t *testing.T) {
	conn := mustOpenConn(t)
	defer mustCloseConn(t, conn)
	if _, _, err := dsqlite.Migrate(conn, migration.Scripts); err != nil {
		t.Fatalf("unexpected error\n%v", err)
	}
	assertTableExists(t, conn, "alarms")

	// Running the same scripts again is a no-op.
	from, to, err := dsqlite.Migrate(conn, migration.Scripts)
	if err != nil {
		t.Fatalf("unexpected error\n%v", err)
	}
	if from != to {
		t.Errorf("unexpected migration %d -> %d", from, to)
	}
	assertVersion(t, conn, 1)
}

func mustOpenConn(tb testing.TB) *sqlite.Conn {
	tb.Helper()
	conn, err := sqlite.OpenConn(":memory:", 0)
	if err != nil {
		tb.Fatal(err)
	}
	return conn
}

func mustCloseConn(tb testing.TB, conn *sqlite.Conn) {
	tb.Helper()
	if err := conn.Close(); err != nil {
		tb.Fatal(err)
	}
}

func assertVersion(tb testing.TB, conn *sqlite.Conn, want int) {
	tb.Helper()
	var got int
	if err := sqlitex.Exec(conn, "pragma user_version", func(stmt *sqlite.Stmt) error {
		got = stmt.ColumnInt(0)
		return nil
	}); err != nil {
		tb.Fatal(err)
	} else if got != want {
		tb.Errorf("wrong version\ngot:  %d\nwant: %d", got, want)
	}
}

func assertTableExists(tb testing.TB, conn *sqlite.Conn, table string) {
	tb.Helper()
	if !tableExists(tb, conn, table) {
		tb.Fatalf("expected table %s", table)
	}
}

func assertTableDoesNotExist(tb testing.TB, conn *sqlite.Conn, table string) {
	tb.Helper()
	if tableExists(tb, conn, table) {
		tb.Fatalf("unexpected table %s", table)
	}
}

func tableExists(tb testing.TB, conn *sqlite.Conn, table string) bool {
	tb.Helper()
	var exists int
	err := sqlitex.Exec(
		conn,
		"select count(*) from sqlite_master where type='table' and name=?",
		func(stmt *sqlite.Stmt) error {
			exists = stmt.ColumnInt(0)
			return nil
		},
		table,
	)
	if err != nil {
		tb.Fatal(err)
	}
	return exists > 0
}
