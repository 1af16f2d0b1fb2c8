package adapter

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/starschema/pkg/core"
)

var testDialect = &Dialect{
	Name:          "test",
	DefaultSchema: "main",
	Placeholder:   DollarPlaceholder,
	Types: map[core.ColumnType]string{
		core.TypeInteger: "BIGINT",
		core.TypeDecimal: "DOUBLE",
		core.TypeText:    "VARCHAR",
		core.TypeDate:    "DATE",
	},
}

func shipModeTable() *core.Table {
	t := core.NewTable("dim_ship_mode",
		core.TableColumn{Name: "ship_mode_key", Type: core.TypeInteger, Key: true},
		core.TableColumn{Name: "ship_mode", Type: core.TypeText},
	)
	t.Append(int64(1), "Second Class")
	t.Append(int64(2), "Standard Class")
	return t.Freeze()
}

func TestParseQualifiedName(t *testing.T) {
	tests := []struct {
		in, schema, name string
	}{
		{"orders", "main", "orders"},
		{"raw.orders", "raw", "orders"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			schema, name := ParseQualifiedName(tt.in, testDialect)
			assert.Equal(t, tt.schema, schema)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"dim_date"`, QuoteIdent("dim_date"))
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
	assert.Equal(t, `'O''Brien'`, QuoteLiteral("O'Brien"))
}

func TestCreateTableSQL(t *testing.T) {
	sql, err := CreateTableSQL(`"dim_ship_mode"`, shipModeTable(), testDialect)
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "dim_ship_mode" ("ship_mode_key" BIGINT, "ship_mode" VARCHAR, PRIMARY KEY ("ship_mode_key"))`, sql)

	bad := &Dialect{Name: "bare", Types: map[core.ColumnType]string{}}
	_, err = CreateTableSQL(`"x"`, shipModeTable(), bad)
	assert.ErrorContains(t, err, "ship_mode_key")
}

func TestInsertSQL(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "dim_ship_mode" ("ship_mode_key", "ship_mode") VALUES ($1, $2)`,
		InsertSQL(`"dim_ship_mode"`, shipModeTable(), testDialect))

	q := &Dialect{Placeholder: QuestionPlaceholder}
	assert.Contains(t, InsertSQL(`"t"`, shipModeTable(), q), "VALUES (?, ?)")
}

func TestBindValue(t *testing.T) {
	d, ok := core.NewDate(2017, time.November, 8)
	require.True(t, ok)
	assert.Equal(t, time.Date(2017, time.November, 8, 0, 0, 0, 0, time.UTC), BindValue(d))
	assert.Equal(t, int64(3), BindValue(int64(3)))
	assert.Nil(t, BindValue(nil))
}

func TestBaseSQLAdapter_WriteTable(t *testing.T) {
	t.Run("without connection", func(t *testing.T) {
		base := &BaseSQLAdapter{Dialect: testDialect}
		err := base.WriteTable(context.Background(), shipModeTable())
		assert.ErrorContains(t, err, "database connection not established")
	})

	t.Run("replaces table in one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "star"."dim_ship_mode"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "star"."dim_ship_mode"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "star"."dim_ship_mode"`))
		prep.ExpectExec().WithArgs(int64(1), "Second Class").WillReturnResult(sqlmock.NewResult(0, 1))
		prep.ExpectExec().WithArgs(int64(2), "Standard Class").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		base := &BaseSQLAdapter{DB: db, Dialect: testDialect, Cfg: core.AdapterConfig{Schema: "star"}}
		require.NoError(t, base.WriteTable(context.Background(), shipModeTable()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on insert failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer func() { _ = db.Close() }()

		mock.ExpectBegin()
		mock.ExpectExec("DROP TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		prep := mock.ExpectPrepare("INSERT INTO")
		prep.ExpectExec().WillReturnError(assert.AnError)
		mock.ExpectRollback()

		base := &BaseSQLAdapter{DB: db, Dialect: testDialect}
		err = base.WriteTable(context.Background(), shipModeTable())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert row 1 into dim_ship_mode")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
