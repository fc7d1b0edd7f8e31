package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"bsid.es/diana"
	"bsid.es/diana/sqlite/migration"
)

// AlarmStore persists alarms in a SQLite database. A single connection
// serves all calls, one at a time.
type AlarmStore struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

var _ diana.AlarmStore = (*AlarmStore)(nil)

// OpenAlarmStore opens the database at path and brings its schema up to
// date. Use ":memory:" for a private in-memory database.
func OpenAlarmStore(path string) (*AlarmStore, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, _, err := Migrate(conn, migration.Scripts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &AlarmStore{conn: conn}, nil
}

func (s *AlarmStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// lock takes the connection and makes its statements interruptible by ctx.
func (s *AlarmStore) lock(ctx context.Context) func() {
	s.mu.Lock()
	s.conn.SetInterrupt(ctx.Done())
	return func() {
		s.conn.SetInterrupt(nil)
		s.mu.Unlock()
	}
}

const alarmColumns = "id, label, hour, minute, enabled, handle, created_at"

func (s *AlarmStore) Add(ctx context.Context, a *diana.Alarm) (err error) {
	if err := a.Validate(); err != nil {
		return err
	}

	defer s.lock(ctx)()
	release := sqlitex.Save(s.conn)
	defer release(&err)

	if _, err := s.find(a.ID); err == nil {
		return diana.Errorf(diana.ErrDuplicateID, "alarm %s already exists", a.ID)
	} else if diana.ErrorCode(err) != diana.ErrNotFound {
		return err
	}

	err = sqlitex.Exec(s.conn,
		"insert into alarms ("+alarmColumns+") values (?, ?, ?, ?, ?, ?, ?)",
		nil,
		string(a.ID),
		a.Label,
		a.TimeOfDay.Hour,
		a.TimeOfDay.Minute,
		boolInt(a.Enabled),
		string(a.Handle),
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert alarm %s: %w", a.ID, err)
	}
	return nil
}

func (s *AlarmStore) Update(ctx context.Context, id diana.AlarmID, fn func(*diana.Alarm) error) (_ *diana.Alarm, err error) {
	defer s.lock(ctx)()
	release := sqlitex.Save(s.conn)
	defer release(&err)

	a, err := s.find(id)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.ID = id
	if err := a.Validate(); err != nil {
		return nil, err
	}

	err = sqlitex.Exec(s.conn,
		"update alarms set label = ?, hour = ?, minute = ?, enabled = ?, handle = ? where id = ?",
		nil,
		a.Label,
		a.TimeOfDay.Hour,
		a.TimeOfDay.Minute,
		boolInt(a.Enabled),
		string(a.Handle),
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("update alarm %s: %w", id, err)
	}
	return a, nil
}

func (s *AlarmStore) Remove(ctx context.Context, id diana.AlarmID) error {
	defer s.lock(ctx)()

	if err := sqlitex.Exec(s.conn, "delete from alarms where id = ?", nil, string(id)); err != nil {
		return fmt.Errorf("delete alarm %s: %w", id, err)
	}
	if s.conn.Changes() == 0 {
		return notFound(id)
	}
	return nil
}

func (s *AlarmStore) Find(ctx context.Context, id diana.AlarmID) (*diana.Alarm, error) {
	defer s.lock(ctx)()
	return s.find(id)
}

func (s *AlarmStore) List(ctx context.Context) ([]*diana.Alarm, error) {
	defer s.lock(ctx)()

	var alarms []*diana.Alarm
	err := sqlitex.Exec(s.conn,
		"select "+alarmColumns+" from alarms order by seq",
		func(stmt *sqlite.Stmt) error {
			a, err := scanAlarm(stmt)
			if err != nil {
				return err
			}
			alarms = append(alarms, a)
			return nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	return alarms, nil
}

func (s *AlarmStore) find(id diana.AlarmID) (*diana.Alarm, error) {
	var a *diana.Alarm
	err := sqlitex.Exec(s.conn,
		"select "+alarmColumns+" from alarms where id = ?",
		func(stmt *sqlite.Stmt) (err error) {
			a, err = scanAlarm(stmt)
			return err
		},
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("find alarm %s: %w", id, err)
	}
	if a == nil {
		return nil, notFound(id)
	}
	return a, nil
}

func scanAlarm(stmt *sqlite.Stmt) (*diana.Alarm, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(6))
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &diana.Alarm{
		ID:    diana.AlarmID(stmt.ColumnText(0)),
		Label: stmt.ColumnText(1),
		TimeOfDay: diana.TimeOfDay{
			Hour:   stmt.ColumnInt(2),
			Minute: stmt.ColumnInt(3),
		},
		Enabled:   stmt.ColumnInt(4) != 0,
		Handle:    diana.Handle(stmt.ColumnText(5)),
		CreatedAt: createdAt,
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(id diana.AlarmID) error {
	return diana.Errorf(diana.ErrNotFound, "alarm %s not found", id)
}
