package sqlmirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"crm-approvals/internal/cursor"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDatabase = "crm"

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestMirror(t *testing.T, pageSize int) (*Mirror, sqlmock.Sqlmock, *testClock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	m, err := New(Config{
		DB:       db,
		Database: testDatabase,
		PageSize: pageSize,
		Logger:   testLogger(),
		Now:      clock.Now,
	})
	require.NoError(t, err)
	return m, mock, clock
}

func expectTable(mock sqlmock.Sqlmock, name string, columns [][]any, fks [][]any) {
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs(testDatabase, name).
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}).AddRow(name, ""))

	colRows := sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "COLUMN_COMMENT"})
	for _, c := range columns {
		colRows.AddRow(c[0], c[1], c[2], c[3])
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WithArgs(testDatabase, name).
		WillReturnRows(colRows)

	fkRows := sqlmock.NewRows([]string{"COLUMN_NAME", "REFERENCED_TABLE_NAME", "REFERENCED_COLUMN_NAME"})
	for _, fk := range fks {
		fkRows.AddRow(fk[0], fk[1], fk[2])
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE").
		WithArgs(testDatabase, name).
		WillReturnRows(fkRows)
}

func expectTimesheet(mock sqlmock.Sqlmock) {
	expectTable(mock, "Timesheet__c", [][]any{
		{"Id", "varchar", "varchar(18)", ""},
		{"Name", "varchar", "varchar(80)", ""},
		{"Contributor__c", "varchar", "varchar(18)", "Contributor"},
		{"Hours__c", "decimal", "decimal(10,2)", ""},
		{"Transaction_Date__c", "date", "date", ""},
		{"Status__c", "enum", "enum('Pending','Approved','Rejected')", ""},
		{"Approved__c", "tinyint", "tinyint(1)", ""},
		{"Notes__c", "text", "text", ""},
	}, [][]any{
		{"Contributor__c", "Contact", "Id"},
	})
}

func expectContact(mock sqlmock.Sqlmock) {
	expectTable(mock, "Contact", [][]any{
		{"Id", "varchar", "varchar(18)", ""},
		{"Name", "varchar", "varchar(120)", ""},
		{"Email", "varchar", "varchar(255)", ""},
	}, nil)
}

func TestDescribe(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)

	desc, err := m.Describe(context.Background(), "Timesheet__c")
	require.NoError(t, err)

	byName := make(map[string]platform.Field)
	for _, f := range desc.Fields {
		byName[f.Name] = f
	}
	assert.Equal(t, "Timesheet", desc.Label)
	assert.Equal(t, platform.TypeID, byName["Id"].Type)
	assert.True(t, byName["Name"].NameField)
	assert.Equal(t, "Name", desc.NameField())

	contributor := byName["Contributor__c"]
	assert.True(t, contributor.IsReference())
	assert.Equal(t, []string{"Contact"}, contributor.ReferenceTo)
	assert.Equal(t, "Contributor__r", contributor.RelationshipName)
	assert.Equal(t, "Contributor", contributor.Label)

	assert.Equal(t, platform.TypeDouble, byName["Hours__c"].Type)
	assert.Equal(t, "Hours", byName["Hours__c"].Label)
	assert.Equal(t, platform.TypeDate, byName["Transaction_Date__c"].Type)
	assert.Equal(t, "Transaction Date", byName["Transaction_Date__c"].Label)
	assert.Equal(t, platform.TypePicklist, byName["Status__c"].Type)
	assert.Equal(t, platform.TypeBoolean, byName["Approved__c"].Type)
	assert.Equal(t, platform.TypeTextArea, byName["Notes__c"].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribe_EmailField(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectContact(mock)

	desc, err := m.Describe(context.Background(), "Contact")
	require.NoError(t, err)
	assert.Equal(t, "Email", desc.EmailField())
}

func TestDescribe_NotFound(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").
		WithArgs(testDatabase, "Work_Log__c").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME", "TABLE_COMMENT"}))

	_, err := m.Describe(context.Background(), "Work_Log__c")
	assert.ErrorIs(t, err, platform.ErrObjectNotFound)

	_, err = m.Describe(context.Background(), "Contact.Name")
	assert.ErrorIs(t, err, platform.ErrObjectNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribe_Unreachable(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").WillReturnError(mysql.ErrInvalidConn)

	_, err := m.Describe(context.Background(), "Timesheet__c")
	assert.ErrorIs(t, err, platform.ErrUnavailable)
	assert.True(t, platform.IsTransient(err))
}

func TestDescribe_CachedUntilTTL(t *testing.T) {
	m, mock, clock := newTestMirror(t, 0)
	expectContact(mock)

	_, err := m.Describe(context.Background(), "Contact")
	require.NoError(t, err)
	_, err = m.Describe(context.Background(), "contact")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	clock.now = clock.now.Add(DefaultDescribeTTL)
	expectContact(mock)
	_, err = m.Describe(context.Background(), "Contact")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_JoinsRelationships(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	expectContact(mock)

	mock.ExpectQuery(
		regexp.QuoteMeta("SELECT `t0`.`Id`, `t0`.`Name`, `t1`.`Name`, `t1`.`Email`, `t0`.`Hours__c`, `t0`.`Transaction_Date__c` "+
			"FROM `Timesheet__c` AS `t0` LEFT JOIN `Contact` AS `t1` ON `t1`.`Id` = `t0`.`Contributor__c` WHERE ") +
			".*" + regexp.QuoteMeta("`t0`.`Status__c` = ?") +
			".*" + regexp.QuoteMeta("`t0`.`Transaction_Date__c` >= ?") +
			".*" + regexp.QuoteMeta("ORDER BY `t0`.`Transaction_Date__c` DESC, `t0`.`Id` ASC LIMIT 50 OFFSET 100"),
	).
		WithArgs("Pending", "2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"c0", "c1", "c2", "c3", "c4", "c5"}).
			AddRow("a0R1", "TS-1", "Ann", "ann@example.com", []byte("6.50"), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)).
			AddRow("a0R2", "TS-2", nil, nil, nil, nil))

	res, err := m.Query(context.Background(), soql.Query{
		Object: "Timesheet__c",
		Fields: []string{"Id", "Name", "contributor__r.name", "Contributor__r.Email", "Hours__c", "Transaction_Date__c"},
		Where: soql.And{
			soql.Eq{Field: "Status__c", Value: "Pending"},
			soql.Cmp{Field: "Transaction_Date__c", Op: soql.OpGte, Value: soql.Literal("2024-01-01")},
		},
		OrderBy: []soql.Order{{Field: "Transaction_Date__c", Desc: true, NullsLast: true}, {Field: "Id"}},
		Limit:   50,
		Offset:  100,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.True(t, res.Done)
	assert.Empty(t, res.NextRecordsURL)

	first := res.Records[0]
	assert.Equal(t, "a0R1", first.ID())
	assert.Equal(t, map[string]any{"Name": "Ann", "Email": "ann@example.com"}, first["Contributor__r"])
	assert.Equal(t, json.Number("6.50"), first["Hours__c"])
	assert.Equal(t, "2024-03-04", first["Transaction_Date__c"])

	second := res.Records[1]
	assert.Nil(t, second["Contributor__r"])
	assert.Nil(t, second["Hours__c"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_NullsLastAscending(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY `t0`.`Hours__c` IS NULL, `t0`.`Hours__c` ASC, `t0`.`Id` ASC LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"c0"}))

	res, err := m.Query(context.Background(), soql.Query{
		Object:  "Timesheet__c",
		Fields:  []string{"Id"},
		OrderBy: []soql.Order{{Field: "Hours__c", NullsLast: true}, {Field: "Id"}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.True(t, res.Done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_KeysetPredicate(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE (`t0`.`Transaction_Date__c` < ? OR (`t0`.`Transaction_Date__c` = ? AND `t0`.`Id` > ?) OR `t0`.`Transaction_Date__c` IS NULL)",
	)).
		WithArgs("2024-03-04", "2024-03-04", "a0R1").
		WillReturnRows(sqlmock.NewRows([]string{"c0"}).AddRow("a0R0"))

	res, err := m.Query(context.Background(), soql.Query{
		Object: "Timesheet__c",
		Fields: []string{"Id"},
		Where: soql.Or{
			soql.Cmp{Field: "Transaction_Date__c", Op: soql.OpLt, Value: soql.Literal("2024-03-04")},
			soql.And{
				soql.Eq{Field: "Transaction_Date__c", Value: soql.Literal("2024-03-04")},
				soql.Cmp{Field: "Id", Op: soql.OpGt, Value: "a0R1"},
			},
			soql.Eq{Field: "Transaction_Date__c", Value: nil},
		},
		Limit: 5,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_InAndNotNull(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectQuery(regexp.QuoteMeta("`t0`.`Contributor__c` IN (?,?)") + ".*" + regexp.QuoteMeta("`t0`.`Hours__c` IS NOT NULL")).
		WithArgs("003A", "003B").
		WillReturnRows(sqlmock.NewRows([]string{"c0"}))

	_, err := m.Query(context.Background(), soql.Query{
		Object: "Timesheet__c",
		Fields: []string{"Id"},
		Where: soql.And{
			soql.In{Field: "Contributor__c", Values: []string{"003A", "003B"}},
			soql.Cmp{Field: "Hours__c", Op: soql.OpNe, Value: nil},
		},
		Limit: 5,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_PagesWithLocators(t *testing.T) {
	m, mock, _ := newTestMirror(t, 2)
	expectTimesheet(mock)

	idRows := func(ids ...string) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"c0"})
		for _, id := range ids {
			rows.AddRow(id)
		}
		return rows
	}
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY `t0`.`Id` ASC LIMIT 3")).WillReturnRows(idRows("a1", "a2", "a3"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `Timesheet__c` AS `t0`")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY `t0`.`Id` ASC LIMIT 3 OFFSET 2")).WillReturnRows(idRows("a3", "a4", "a5"))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY `t0`.`Id` ASC LIMIT 3 OFFSET 4")).WillReturnRows(idRows("a5"))

	ctx := context.Background()
	q := soql.Query{Object: "Timesheet__c", Fields: []string{"Id"}, OrderBy: []soql.Order{{Field: "Id"}}}
	records, complete, err := platform.CollectAll(ctx, m, q, 10)
	require.NoError(t, err)
	assert.True(t, complete)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())

	m.mu.Lock()
	assert.Empty(t, m.sessions)
	m.mu.Unlock()
}

func TestQueryMore_Locators(t *testing.T) {
	m, mock, clock := newTestMirror(t, 1)
	expectTimesheet(mock)
	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"c0"}).AddRow("a1").AddRow("a2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(2))

	ctx := context.Background()
	res, err := m.Query(ctx, soql.Query{Object: "Timesheet__c", Fields: []string{"Id"}})
	require.NoError(t, err)
	require.True(t, res.HasMore())
	assert.Equal(t, 2, res.TotalSize)
	assert.True(t, strings.HasPrefix(res.NextRecordsURL, LocatorPrefix))

	tests := []struct {
		name    string
		locator string
	}{
		{name: "foreign prefix", locator: "/services/data/v59.0/query/01gXX-2000"},
		{name: "garbage token", locator: LocatorPrefix + "not-a-locator"},
		{name: "unknown session", locator: LocatorPrefix + cursor.Encode(cursor.Locator{Object: "Timesheet__c", Session: "gone", Offset: 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.QueryMore(ctx, tt.locator)
			assert.ErrorIs(t, err, platform.ErrInvalidLocator)
		})
	}

	clock.now = clock.now.Add(DefaultLocatorTTL)
	_, err = m.QueryMore(ctx, res.NextRecordsURL)
	assert.ErrorIs(t, err, platform.ErrInvalidLocator)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_OffsetCap(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)

	_, err := m.Query(context.Background(), soql.Query{Object: "Timesheet__c", Fields: []string{"Id"}, Offset: DefaultOffsetCap + 1})
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NUMBER_OUTSIDE_VALID_RANGE", apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_InvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		field string
	}{
		{name: "unknown column", field: "Bogus__c"},
		{name: "unknown relationship", field: "Nope__r.Name"},
		{name: "unknown related column", field: "Contributor__r.Phone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock, _ := newTestMirror(t, 0)
			expectTimesheet(mock)
			if strings.HasPrefix(tt.field, "Contributor__r.") {
				expectContact(mock)
			}

			_, err := m.Query(context.Background(), soql.Query{Object: "Timesheet__c", Fields: []string{tt.field}})
			var apiErr *platform.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, "INVALID_FIELD", apiErr.Code)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestQuery_CountAndAggregate(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM `Timesheet__c` AS `t0` WHERE `t0`.`Status__c` IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT SUM(`t0`.`Hours__c`) AS `total` FROM `Timesheet__c` AS `t0` WHERE `t0`.`Status__c` = ?")).
		WithArgs("Pending").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow([]byte("12.50")))

	ctx := context.Background()
	total, err := platform.Count(ctx, m, "Timesheet__c", soql.Eq{Field: "Status__c", Value: nil})
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	res, err := m.Query(ctx, soql.Query{
		Object:     "Timesheet__c",
		Where:      soql.Eq{Field: "Status__c", Value: "Pending"},
		Aggregates: []soql.Aggregate{{Func: soql.Sum, Field: "Hours__c", Alias: "total"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	sum, ok := platform.AsFloat(res.Records[0]["total"])
	require.True(t, ok)
	assert.InDelta(t, 12.5, sum, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuery_MissingTable(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectQuery("SELECT").WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'crm.Timesheet__c' doesn't exist"})

	_, err := m.Query(context.Background(), soql.Query{Object: "Timesheet__c", Fields: []string{"Id"}, Limit: 1})
	assert.ErrorIs(t, err, platform.ErrObjectNotFound)
}

func TestUpdate(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `Timesheet__c` SET `Status__c` = ? WHERE `Id` = ?")).
		WithArgs("Approved", "a0R1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `Timesheet__c` SET `Status__c` = ? WHERE `Id` = ?")).
		WithArgs("Approved", "a0R2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	results, err := m.Update(context.Background(), "Timesheet__c", []platform.RecordUpdate{
		{ID: "a0R1", Fields: map[string]any{"status__c": "Approved"}},
		{ID: "a0R2", Fields: map[string]any{"Status__c": "Approved"}},
		{ID: "a0R3", Fields: map[string]any{"Bogus__c": "x"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, platform.SaveResult{ID: "a0R1", Success: true}, results[0])
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Errors[0], "ENTITY_IS_DELETED")
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Errors[0], "INVALID_FIELD")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ConnectionFailure(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectExec("UPDATE").WillReturnError(mysql.ErrInvalidConn)

	_, err := m.Update(context.Background(), "Timesheet__c", []platform.RecordUpdate{
		{ID: "a0R1", Fields: map[string]any{"Status__c": "Approved"}},
	})
	assert.ErrorIs(t, err, platform.ErrUnavailable)
}

func TestUpdate_RowError(t *testing.T) {
	m, mock, _ := newTestMirror(t, 0)
	expectTimesheet(mock)
	mock.ExpectExec("UPDATE").WillReturnError(&mysql.MySQLError{Number: 1265, Message: "Data truncated for column 'Status__c'"})

	results, err := m.Update(context.Background(), "Timesheet__c", []platform.RecordUpdate{
		{ID: "a0R1", Fields: map[string]any{"Status__c": "Maybe"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Errors[0], "Data truncated")
}

func TestMapError(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		err       error
		target    error
		code      string
		transient bool
	}{
		{name: "missing table", err: &mysql.MySQLError{Number: 1146}, target: platform.ErrObjectNotFound},
		{name: "unknown column", err: &mysql.MySQLError{Number: 1054}, code: "INVALID_FIELD"},
		{name: "access denied", err: &mysql.MySQLError{Number: 1045}, target: platform.ErrUnavailable, transient: true},
		{name: "deadlock", err: &mysql.MySQLError{Number: 1213}, code: "UNABLE_TO_LOCK_ROW", transient: true},
		{name: "invalid connection", err: mysql.ErrInvalidConn, target: platform.ErrUnavailable, transient: true},
		{name: "canceled", ctx: canceled, err: sql.ErrConnDone, target: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := tt.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			got := mapError(ctx, tt.err)
			if tt.target != nil {
				assert.ErrorIs(t, got, tt.target)
			}
			if tt.code != "" {
				var apiErr *platform.APIError
				require.True(t, errors.As(got, &apiErr))
				assert.Equal(t, tt.code, apiErr.Code)
			}
			if tt.ctx == nil {
				assert.Equal(t, tt.transient, platform.IsTransient(got))
			}
		})
	}
}

func TestNormalizeDSN(t *testing.T) {
	dsn, database, err := NormalizeDSN("mirror:secret@tcp(db.internal:4000)/crm")
	require.NoError(t, err)
	assert.Equal(t, "crm", database)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, _, err = NormalizeDSN("")
	assert.Error(t, err)
	_, _, err = NormalizeDSN("not a dsn")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Database: testDatabase})
	assert.Error(t, err)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	_, err = New(Config{DB: db})
	assert.Error(t, err)
}
