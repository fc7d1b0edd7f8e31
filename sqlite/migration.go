package sqlite

import (
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
)

// Migrate runs, in name order, the *.sql scripts in fsys that the database
// hasn't seen yet, and records how many it has seen in its user_version. It
// returns the schema versions before and after. All scripts run in one
// savepoint, so a failing script leaves the schema untouched.
func Migrate(conn *sqlite.Conn, fsys fs.FS) (from, to int, err error) {
	release := sqlitex.Save(conn)
	defer release(&err)

	from, err = userVersion(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("get version: %w", err)
	}

	scripts, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0, 0, fmt.Errorf("list scripts: %w", err)
	}
	if from >= len(scripts) {
		// There are no scripts to run.
		return from, from, nil
	}

	sort.Strings(scripts)
	for _, script := range scripts[from:] {
		buf, err := fs.ReadFile(fsys, script)
		if err != nil {
			return 0, 0, fmt.Errorf("read %s: %w", script, err)
		}
		if err := execScript(conn, string(buf)); err != nil {
			return 0, 0, fmt.Errorf("%s: %w", script, err)
		}
	}

	to = len(scripts)
	if err := sqlitex.ExecTransient(conn, "pragma user_version="+strconv.Itoa(to), nil); err != nil {
		return 0, 0, fmt.Errorf("set version: %w", err)
	}
	return from, to, nil
}

func userVersion(conn *sqlite.Conn) (int, error) {
	var v int
	err := sqlitex.ExecTransient(conn, "pragma user_version", func(stmt *sqlite.Stmt) error {
		v = stmt.ColumnInt(0)
		return nil
	})
	return v, err
}

// execScript runs every statement in queries.
func execScript(conn *sqlite.Conn, queries string) error {
	queries = strings.TrimSpace(queries)
	for i := 0; queries != ""; i++ {
		stmt, trailingBytes, err := conn.PrepareTransient(queries)
		if err != nil {
			return fmt.Errorf("prepare stmt %d: %w", i, err)
		}
		queries = strings.TrimSpace(queries[len(queries)-trailingBytes:])
		if stmt == nil {
			// Comments and whitespace compile to nothing.
			continue
		}
		_, err = stmt.Step()
		stmt.Finalize()
		if err != nil {
			return fmt.Errorf("execute stmt %d: %w", i, err)
		}
	}
	return nil
}
