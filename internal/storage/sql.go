package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// sqlStore implements Store over database/sql for both SQL drivers. Queries are
// written with '?' placeholders and rebound per dialect.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	log     logx.Logger
}

func newSQLStore(db *sql.DB, d dialect, log logx.Logger) *sqlStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &sqlStore{db: db, dialect: d, log: log}
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// ---- schedule.Reader ----

func (s *sqlStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM schools ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetActiveScheduleID(ctx context.Context, tenantID string) (string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx, s.q(`SELECT active_schedule_id FROM schools WHERE id = ?`), tenantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id.String, nil
}

func (s *sqlStore) GetSpecialDay(ctx context.Context, tenantID, date string) (*schedule.SpecialDay, error) {
	var (
		sd       schedule.SpecialDay
		typ      string
		override sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, school_id, date, type, override_schedule_id FROM special_days WHERE school_id = ? AND date = ?`),
		tenantID, date,
	).Scan(&sd.ID, &sd.TenantID, &sd.Date, &typ, &override)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sd.Type = schedule.SpecialDayType(typ)
	sd.OverrideScheduleID = override.String
	return &sd, nil
}

func (s *sqlStore) ScheduleExists(ctx context.Context, scheduleID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM schedules WHERE id = ?`), scheduleID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const bellColumns = `id, schedule_id, day, time, name, enabled, bell_type, break_duration, sound_id`

func (s *sqlStore) GetBellsForSchedule(ctx context.Context, scheduleID string) ([]schedule.Bell, error) {
	return queryBells(ctx, s.db, s.q(`SELECT `+bellColumns+` FROM bells WHERE schedule_id = ?`), scheduleID)
}

func queryBells(ctx context.Context, x execer, query string, args ...any) ([]schedule.Bell, error) {
	rows, err := x.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Bell
	for rows.Next() {
		b, err := scanBell(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBells(out)
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBell(r scanner) (schedule.Bell, error) {
	var (
		b   schedule.Bell
		typ string
	)
	err := r.Scan(&b.ID, &b.ScheduleID, &b.Day, &b.Time, &b.Name, &b.Enabled, &typ, &b.BreakDuration, &b.SoundID)
	b.BellType = schedule.BellType(typ)
	return b, err
}

// ---- Reader ----

func (s *sqlStore) GetTenant(ctx context.Context, id string) (*schedule.Tenant, error) {
	return s.getTenant(ctx, `SELECT id, name, api_key, active_schedule_id, created_at FROM schools WHERE id = ?`, id)
}

func (s *sqlStore) GetTenantByAPIKey(ctx context.Context, apiKey string) (*schedule.Tenant, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, nil
	}
	return s.getTenant(ctx, `SELECT id, name, api_key, active_schedule_id, created_at FROM schools WHERE api_key = ?`, apiKey)
}

func (s *sqlStore) getTenant(ctx context.Context, query, arg string) (*schedule.Tenant, error) {
	var (
		t        schedule.Tenant
		key, act sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx, s.q(query), arg).Scan(&t.ID, &t.Name, &key, &act, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.APIKey = key.String
	t.ActiveScheduleID = act.String
	t.CreatedAt = parseTime(created)
	return &t, nil
}

func (s *sqlStore) GetSchedule(ctx context.Context, id string) (*schedule.ScheduleSet, error) {
	var (
		set     schedule.ScheduleSet
		created string
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, school_id, name, created_at FROM schedules WHERE id = ?`), id,
	).Scan(&set.ID, &set.TenantID, &set.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	set.CreatedAt = parseTime(created)
	bells, err := s.GetBellsForSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	set.Bells = bells
	return &set, nil
}

func (s *sqlStore) ListSchedules(ctx context.Context, tenantID string) ([]schedule.ScheduleSet, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, school_id, name, created_at FROM schedules WHERE school_id = ? ORDER BY name, id`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.ScheduleSet
	for rows.Next() {
		var (
			set     schedule.ScheduleSet
			created string
		)
		if err := rows.Scan(&set.ID, &set.TenantID, &set.Name, &created); err != nil {
			return nil, err
		}
		set.CreatedAt = parseTime(created)
		out = append(out, set)
	}
	return out, rows.Err()
}

func (s *sqlStore) GetBell(ctx context.Context, id string) (*schedule.Bell, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+bellColumns+` FROM bells WHERE id = ?`), id)
	b, err := scanBell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *sqlStore) ListSpecialDays(ctx context.Context, tenantID string) ([]schedule.SpecialDay, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, school_id, date, type, override_schedule_id FROM special_days WHERE school_id = ? ORDER BY date`), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.SpecialDay
	for rows.Next() {
		var (
			sd       schedule.SpecialDay
			typ      string
			override sql.NullString
		)
		if err := rows.Scan(&sd.ID, &sd.TenantID, &sd.Date, &typ, &override); err != nil {
			return nil, err
		}
		sd.Type = schedule.SpecialDayType(typ)
		sd.OverrideScheduleID = override.String
		out = append(out, sd)
	}
	return out, rows.Err()
}

func (s *sqlStore) RecentActivity(ctx context.Context, tenantID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, school_id, at, actor, message FROM activity WHERE school_id = ? ORDER BY id DESC LIMIT ?`),
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActivityEntry
	for rows.Next() {
		var (
			e     ActivityEntry
			at    string
			actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &at, &actor, &e.Message); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.Actor = actor.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- Writer ----

func (s *sqlStore) CreateTenant(ctx context.Context, t schedule.Tenant) (schedule.Tenant, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO schools(id, name, api_key, active_schedule_id, created_at) VALUES(?,?,?,?,?)`),
		t.ID, t.Name, nullStr(t.APIKey), nullStr(t.ActiveScheduleID), fmtTime(t.CreatedAt),
	)
	if err != nil {
		return schedule.Tenant{}, err
	}
	return t, nil
}

func (s *sqlStore) RenameTenant(ctx context.Context, id, name string) error {
	return mustAffect(s.db.ExecContext(ctx, s.q(`UPDATE schools SET name = ? WHERE id = ?`), name, id))
}

func (s *sqlStore) DeleteTenant(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM bells WHERE schedule_id IN (SELECT id FROM schedules WHERE school_id = ?)`,
			`DELETE FROM special_days WHERE school_id = ?`,
			`DELETE FROM activity WHERE school_id = ?`,
			`UPDATE schools SET active_schedule_id = NULL WHERE id = ?`,
			`DELETE FROM schedules WHERE school_id = ?`,
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, s.q(q), id); err != nil {
				return err
			}
		}
		return mustAffect(tx.ExecContext(ctx, s.q(`DELETE FROM schools WHERE id = ?`), id))
	})
}

func (s *sqlStore) SetActiveSchedule(ctx context.Context, tenantID, scheduleID string) error {
	if scheduleID != "" {
		ok, err := s.ScheduleExists(ctx, scheduleID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
	}
	return mustAffect(s.db.ExecContext(ctx,
		s.q(`UPDATE schools SET active_schedule_id = ? WHERE id = ?`), nullStr(scheduleID), tenantID))
}

func (s *sqlStore) CreateSchedule(ctx context.Context, set schedule.ScheduleSet) (schedule.ScheduleSet, error) {
	if set.ID == "" {
		set.ID = newID()
	}
	if set.CreatedAt.IsZero() {
		set.CreatedAt = time.Now().UTC()
	}
	bells := make([]schedule.Bell, 0, len(set.Bells))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO schedules(id, school_id, name, created_at) VALUES(?,?,?,?)`),
			set.ID, set.TenantID, set.Name, fmtTime(set.CreatedAt))
		if err != nil {
			return err
		}
		for _, b := range set.Bells {
			b.ScheduleID = set.ID
			if b.ID == "" {
				b.ID = newID()
			}
			if err := s.insertBell(ctx, tx, b); err != nil {
				return err
			}
			bells = append(bells, b)
		}
		return nil
	})
	if err != nil {
		return schedule.ScheduleSet{}, err
	}
	set.Bells = bells
	return set, nil
}

func (s *sqlStore) RenameSchedule(ctx context.Context, id, name string) error {
	return mustAffect(s.db.ExecContext(ctx, s.q(`UPDATE schedules SET name = ? WHERE id = ?`), name, id))
}

func (s *sqlStore) DeleteSchedule(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM bells WHERE schedule_id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE schools SET active_schedule_id = NULL WHERE active_schedule_id = ?`), id); err != nil {
			return err
		}
		return mustAffect(tx.ExecContext(ctx, s.q(`DELETE FROM schedules WHERE id = ?`), id))
	})
}

func (s *sqlStore) insertBell(ctx context.Context, x execer, b schedule.Bell) error {
	_, err := x.ExecContext(ctx,
		s.q(`INSERT INTO bells(`+bellColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`),
		b.ID, b.ScheduleID, b.Day, b.Time, b.Name, b.Enabled, string(b.BellType), b.BreakDuration, b.SoundID,
	)
	return err
}

func (s *sqlStore) CreateBell(ctx context.Context, b schedule.Bell) (schedule.Bell, error) {
	ok, err := s.ScheduleExists(ctx, b.ScheduleID)
	if err != nil {
		return schedule.Bell{}, err
	}
	if !ok {
		return schedule.Bell{}, ErrNotFound
	}
	if b.ID == "" {
		b.ID = newID()
	}
	if err := s.insertBell(ctx, s.db, b); err != nil {
		return schedule.Bell{}, err
	}
	return b, nil
}

func (s *sqlStore) UpdateBell(ctx context.Context, b schedule.Bell) error {
	return mustAffect(s.db.ExecContext(ctx,
		s.q(`UPDATE bells SET day = ?, time = ?, name = ?, enabled = ?, bell_type = ?, break_duration = ?, sound_id = ? WHERE id = ?`),
		b.Day, b.Time, b.Name, b.Enabled, string(b.BellType), b.BreakDuration, b.SoundID, b.ID,
	))
}

func (s *sqlStore) DeleteBell(ctx context.Context, id string) error {
	return mustAffect(s.db.ExecContext(ctx, s.q(`DELETE FROM bells WHERE id = ?`), id))
}

func (s *sqlStore) DeleteBellsForDay(ctx context.Context, scheduleID, day string) ([]schedule.Bell, error) {
	var removed []schedule.Bell
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		removed, err = queryBells(ctx, tx,
			s.q(`SELECT `+bellColumns+` FROM bells WHERE schedule_id = ? AND day = ?`), scheduleID, day)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`DELETE FROM bells WHERE schedule_id = ? AND day = ?`), scheduleID, day)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *sqlStore) UpsertSpecialDay(ctx context.Context, sd schedule.SpecialDay) (schedule.SpecialDay, error) {
	if sd.ID == "" {
		sd.ID = newID()
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO special_days(id, school_id, date, type, override_schedule_id) VALUES(?,?,?,?,?)
			 ON CONFLICT(school_id, date) DO UPDATE SET type = excluded.type, override_schedule_id = excluded.override_schedule_id`),
			sd.ID, sd.TenantID, sd.Date, string(sd.Type), nullStr(sd.OverrideScheduleID),
		)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			s.q(`SELECT id FROM special_days WHERE school_id = ? AND date = ?`), sd.TenantID, sd.Date,
		).Scan(&sd.ID)
	})
	if err != nil {
		return schedule.SpecialDay{}, err
	}
	return sd, nil
}

func (s *sqlStore) DeleteSpecialDay(ctx context.Context, tenantID, date string) error {
	return mustAffect(s.db.ExecContext(ctx,
		s.q(`DELETE FROM special_days WHERE school_id = ? AND date = ?`), tenantID, date))
}

func (s *sqlStore) AppendActivity(ctx context.Context, e ActivityEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO activity(school_id, at, actor, message) VALUES(?,?,?,?)`),
		e.TenantID, fmtTime(e.At), nullStr(e.Actor), e.Message,
	)
	return err
}
