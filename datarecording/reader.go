package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"reflect"
	"strings"
)

// QueryParams selects the rows a query returns.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, such as "PID = ?".
	Where string
	Args  []any

	// OrderBy is a column list without the ORDER BY keywords.
	OrderBy string

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// DataReader reads tables written by a DataRecorder.
type DataReader interface {
	// MapTable tells which struct type the rows of a table are read into.
	MapTable(tableName string, sampleRow any)

	// Query returns the matching rows as pointers to the mapped type, and
	// how many rows match when Limit is ignored.
	Query(ctx context.Context, tableName string, params QueryParams) (
		rows []any,
		total int,
		err error,
	)

	// CountBy counts the rows of a table grouped by one column.
	CountBy(ctx context.Context, tableName, column string) (map[string]int, error)

	Close() error
}

type sqliteReader struct {
	db       *sql.DB
	rowTypes map[string]reflect.Type
}

// NewReader opens a recording for reading.
func NewReader(filename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	return &sqliteReader{
		db:       db,
		rowTypes: make(map[string]reflect.Type),
	}, nil
}

func (r *sqliteReader) MapTable(tableName string, sampleRow any) {
	if _, err := columnsOf(sampleRow); err != nil {
		log.Panicf("table %s: %v", tableName, err)
	}

	r.rowTypes[tableName] = reflect.TypeOf(sampleRow)
}

func (r *sqliteReader) rowType(tableName string) (reflect.Type, error) {
	t, found := r.rowTypes[tableName]
	if !found {
		return nil, fmt.Errorf("table %s is not mapped", tableName)
	}

	return t, nil
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	t, err := r.rowType(tableName)
	if err != nil {
		return nil, 0, err
	}

	var where string
	if params.Where != "" {
		where = " WHERE " + params.Where
	}

	var total int

	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+where, params.Args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	var q strings.Builder

	q.WriteString("SELECT * FROM " + tableName + where)

	if params.OrderBy != "" {
		q.WriteString(" ORDER BY " + params.OrderBy)
	}

	if params.Limit > 0 {
		fmt.Fprintf(&q, " LIMIT %d", params.Limit)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := scanInto(rows, t)
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

// scanInto reads every row into a new value of type t. Columns t has no
// field for are skipped.
func scanInto(rows *sql.Rows, t reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var (
		results []any
		skipped any
	)

	for rows.Next() {
		v := reflect.New(t)
		dst := make([]any, len(columns))

		for i, column := range columns {
			if f := v.Elem().FieldByName(column); f.IsValid() {
				dst[i] = f.Addr().Interface()
			} else {
				dst[i] = &skipped
			}
		}

		if err := rows.Scan(dst...); err != nil {
			return nil, err
		}

		results = append(results, v.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) CountBy(
	ctx context.Context,
	tableName, column string,
) (map[string]int, error) {
	t, err := r.rowType(tableName)
	if err != nil {
		return nil, err
	}

	if _, found := t.FieldByName(column); !found {
		return nil, fmt.Errorf("table %s has no column %s", tableName, column)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %[1]s, COUNT(*) FROM %[2]s GROUP BY %[1]s", column, tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			key   sql.NullString
			count int
		)

		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}

		counts[key.String] = count
	}

	return counts, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}
