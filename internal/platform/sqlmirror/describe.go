package sqlmirror

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"crm-approvals/internal/platform"

	"go.opentelemetry.io/otel/attribute"
)

// table is a described mirror table plus the column metadata the query
// planner needs.
type table struct {
	desc    *platform.ObjectDescribe
	columns map[string]platform.Field
	// refs maps a lower-cased relationship name to its foreign key.
	refs    map[string]foreignKey
	fetched time.Time
}

type column struct {
	Name       string
	DataType   string
	ColumnType string
	Comment    string
}

type foreignKey struct {
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
}

func (t *table) field(name string) (platform.Field, bool) {
	f, ok := t.columns[strings.ToLower(name)]
	return f, ok
}

// lookupTable returns the cached describe of object, loading it from
// INFORMATION_SCHEMA when missing or older than the describe TTL.
func (m *Mirror) lookupTable(ctx context.Context, object string) (*table, error) {
	key := strings.ToLower(object)
	m.mu.Lock()
	cached, ok := m.tables[key]
	m.mu.Unlock()
	if ok && m.now().Sub(cached.fetched) < m.describeTTL {
		return cached, nil
	}

	t, err := m.loadTable(ctx, object)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.tables[key] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Mirror) loadTable(ctx context.Context, object string) (*table, error) {
	ctx, span := startSpan(ctx, "sqlmirror.describe",
		attribute.String("db.name", m.database),
		attribute.String("db.table", object),
	)
	defer span.End()

	name, comment, err := m.getTable(ctx, object)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	columns, err := m.getColumns(ctx, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get columns for table %s: %w", name, err)
	}
	foreignKeys, err := m.getForeignKeys(ctx, name)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", name, err)
	}
	return m.buildTable(name, comment, columns, foreignKeys), nil
}

func (m *Mirror) buildTable(name, comment string, columns []column, foreignKeys []foreignKey) *table {
	fkByColumn := make(map[string]foreignKey, len(foreignKeys))
	for _, fk := range foreignKeys {
		fkByColumn[strings.ToLower(fk.ColumnName)] = fk
	}

	t := &table{
		desc:    &platform.ObjectDescribe{Name: name, Label: labelFor(name, comment)},
		columns: make(map[string]platform.Field, len(columns)),
		refs:    make(map[string]foreignKey, len(foreignKeys)),
		fetched: m.now(),
	}
	for _, col := range columns {
		f := platform.Field{
			Name:      col.Name,
			Label:     labelFor(col.Name, col.Comment),
			Type:      fieldType(col),
			NameField: strings.EqualFold(col.Name, "Name"),
		}
		if fk, ok := fkByColumn[strings.ToLower(col.Name)]; ok {
			f.Type = platform.TypeReference
			f.ReferenceTo = []string{fk.ReferencedTable}
			f.RelationshipName = m.namer.RelationshipName(col.Name)
			t.refs[strings.ToLower(f.RelationshipName)] = fk
		}
		t.desc.Fields = append(t.desc.Fields, f)
		t.columns[strings.ToLower(col.Name)] = f
	}
	return t
}

// fieldType maps a MySQL column to the platform field type the schema
// matcher expects.
func fieldType(col column) string {
	if strings.EqualFold(col.Name, "Id") {
		return platform.TypeID
	}
	dataType := strings.ToLower(col.DataType)
	switch dataType {
	case "char", "varchar":
		if strings.Contains(strings.ToLower(col.Name), "email") {
			return platform.TypeEmail
		}
		return platform.TypeString
	case "tinytext", "text", "mediumtext", "longtext":
		return platform.TypeTextArea
	case "enum", "set":
		return platform.TypePicklist
	case "decimal", "float", "double":
		return platform.TypeDouble
	case "tinyint":
		if strings.EqualFold(col.ColumnType, "tinyint(1)") {
			return platform.TypeBoolean
		}
		return platform.TypeInt
	case "bit":
		return platform.TypeBoolean
	case "smallint", "mediumint", "int", "integer", "bigint":
		return platform.TypeInt
	case "date":
		return platform.TypeDate
	case "datetime", "timestamp":
		return platform.TypeDateTime
	}
	return platform.TypeString
}

// labelFor prefers the column comment, then derives a label from the API
// name: "Hours_Logged__c" -> "Hours Logged".
func labelFor(name, comment string) string {
	if comment = strings.TrimSpace(comment); comment != "" {
		return comment
	}
	label := name
	if len(label) > 3 && strings.HasSuffix(strings.ToLower(label), "__c") {
		label = label[:len(label)-3]
	}
	return strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
}

func (m *Mirror) getTable(ctx context.Context, object string) (string, string, error) {
	query := `
		SELECT TABLE_NAME, TABLE_COMMENT
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
	`

	rows, err := m.exec.QueryContext(ctx, query, m.database, object)
	if err != nil {
		return "", "", mapError(ctx, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", "", mapError(ctx, err)
		}
		return "", "", fmt.Errorf("describe %s: %w", object, platform.ErrObjectNotFound)
	}
	var name string
	var comment sql.NullString
	if err := rows.Scan(&name, &comment); err != nil {
		return "", "", err
	}
	return name, strings.TrimSpace(comment.String), nil
}

func (m *Mirror) getColumns(ctx context.Context, tableName string) ([]column, error) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			COLUMN_COMMENT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	rows, err := m.exec.QueryContext(ctx, query, m.database, tableName)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []column
	for rows.Next() {
		var col column
		var comment sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &col.ColumnType, &comment); err != nil {
			return nil, err
		}
		col.Comment = strings.TrimSpace(comment.String)
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err)
	}
	return columns, nil
}

// getForeignKeys lists single-column foreign keys; each becomes a lookup
// field whose relationship can be traversed with a LEFT JOIN.
func (m *Mirror) getForeignKeys(ctx context.Context, tableName string) ([]foreignKey, error) {
	query := `
		SELECT
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := m.exec.QueryContext(ctx, query, m.database, tableName)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, err
		}
		foreignKeys = append(foreignKeys, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err)
	}
	return foreignKeys, nil
}
