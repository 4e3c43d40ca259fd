package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbell/internal/schedule"
	logx "schoolbell/pkg/logx"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *sqlStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, newSQLStore(db, dialectPostgres, logx.Nop())
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", rebindDollar("SELECT 1 WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}

func TestPostgres_GetActiveScheduleID(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT active_schedule_id FROM schools WHERE id = $1`)).
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"active_schedule_id"}).AddRow("sched-1"))

	id, err := st.GetActiveScheduleID(context.Background(), "school-1")
	require.NoError(t, err)
	assert.Equal(t, "sched-1", id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetActiveScheduleID_NullAndMissing(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT active_schedule_id`).
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"active_schedule_id"}).AddRow(nil))
	mock.ExpectQuery(`SELECT active_schedule_id`).
		WithArgs("school-2").
		WillReturnError(sql.ErrNoRows)

	id, err := st.GetActiveScheduleID(context.Background(), "school-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = st.GetActiveScheduleID(context.Background(), "school-2")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetSpecialDay(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "school_id", "date", "type", "override_schedule_id"}).
		AddRow("sd-1", "school-1", "2025-01-01", "HOLIDAY", nil)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM special_days WHERE school_id = $1 AND date = $2`)).
		WithArgs("school-1", "2025-01-01").
		WillReturnRows(rows)

	sd, err := st.GetSpecialDay(context.Background(), "school-1", "2025-01-01")
	require.NoError(t, err)
	require.NotNil(t, sd)
	assert.Equal(t, schedule.DayHoliday, sd.Type)
	assert.Empty(t, sd.OverrideScheduleID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetBellsForSchedule(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "schedule_id", "day", "time", "name", "enabled", "bell_type", "break_duration", "sound_id"}).
		AddRow("b2", "s1", "Monday", "09:00", "second", true, "lesson", 0, "sound-1").
		AddRow("b1", "s1", "Monday", "08:00", "first", true, "break", 10, "sound-1")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bells WHERE schedule_id = $1`)).
		WithArgs("s1").
		WillReturnRows(rows)

	bells, err := st.GetBellsForSchedule(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, bells, 2)
	assert.Equal(t, "b1", bells[0].ID)
	assert.Equal(t, schedule.BellBreak, bells[0].BellType)
	assert.Equal(t, 10, bells[0].BreakDuration)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReadErrorPropagates(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery(`SELECT id FROM schools`).WillReturnError(boom)

	_, err := st.ListTenantIDs(context.Background())
	assert.ErrorIs(t, err, boom)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteScheduleInTx(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bells WHERE schedule_id = $1`)).
		WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE schools SET active_schedule_id = NULL WHERE active_schedule_id = $1`)).
		WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schedules WHERE id = $1`)).
		WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, st.DeleteSchedule(context.Background(), "s1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteScheduleMissingRollsBack(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM bells`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE schools`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM schedules`).WithArgs("s1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.DeleteSchedule(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DeleteTenantInTx(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bells WHERE schedule_id IN (SELECT id FROM schedules WHERE school_id = $1)`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM special_days WHERE school_id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM activity WHERE school_id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE schools SET active_schedule_id = NULL WHERE id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schedules WHERE school_id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM schools WHERE id = $1`)).
		WithArgs("t1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, st.DeleteTenant(context.Background(), "t1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_RenameTenantMissing(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE schools SET name = $1 WHERE id = $2`)).
		WithArgs("New", "t9").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, st.RenameTenant(context.Background(), "t9", "New"), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendActivity(t *testing.T) {
	db, mock, st := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO activity(school_id, at, actor, message) VALUES($1,$2,$3,$4)`)).
		WithArgs("school-1", sqlmock.AnyArg(), nil, "bell added").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := st.AppendActivity(context.Background(), ActivityEntry{TenantID: "school-1", Message: "bell added"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
