// Package datarecording stores flat Go structs into SQLite tables and reads
// them back.
package datarecording

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const flushThreshold = 100000

// DataRecorder buffers rows and writes them into SQLite tables. A table holds
// rows of one struct type whose fields are all exported scalars.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of sampleRow.
	CreateTable(tableName string, sampleRow any)

	// InsertData buffers a row for a table created before.
	InsertData(tableName string, row any)

	// Flush writes the buffered rows.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

type schema struct {
	rowType   reflect.Type
	insertSQL string
	pending   [][]any
}

type sqliteRecorder struct {
	db *sql.DB

	mu       sync.Mutex
	tables   map[string]*schema
	numRows  int
	isClosed bool
}

// New creates a DataRecorder that writes to path + ".sqlite3". An empty path
// picks a unique name. Buffered rows are flushed when the program exits
// through atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "vmpaging_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		log.Panicf("recording %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		log.Panic(err)
	}

	fmt.Fprintf(os.Stderr, "Recording to %s\n", filename)

	r := &sqliteRecorder{
		db:     db,
		tables: make(map[string]*schema),
	}

	atexit.Register(r.Flush)

	return r
}

func (r *sqliteRecorder) CreateTable(tableName string, sampleRow any) {
	columns, err := columnsOf(sampleRow)
	if err != nil {
		log.Panicf("table %s: %v", tableName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[tableName]; exists {
		log.Panicf("table %s already exists", tableName)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)",
		tableName, strings.Join(columns, ", "))
	if _, err := r.db.Exec(createSQL); err != nil {
		log.Panicf("%s: %v", createSQL, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	r.tables[tableName] = &schema{
		rowType: reflect.TypeOf(sampleRow),
		insertSQL: fmt.Sprintf("INSERT INTO %s VALUES (%s)",
			tableName, placeholders),
	}
}

// columnsOf lists the columns a row type maps to.
func columnsOf(row any) ([]string, error) {
	if t := reflect.TypeOf(row); t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%T is not a struct", row)
	}

	var columns []string

	for _, f := range structs.Fields(row) {
		switch {
		case !f.IsExported():
			return nil, fmt.Errorf("field %s is not exported", f.Name())
		case !isScalar(f.Kind()):
			return nil, fmt.Errorf("field %s is a %s", f.Name(), f.Kind())
		}

		columns = append(columns, f.Name())
	}

	return columns, nil
}

func isScalar(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64:
		return true
	default:
		return kind >= reflect.Int && kind <= reflect.Uint64
	}
}

func (r *sqliteRecorder) InsertData(tableName string, row any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.tables[tableName]
	if !exists {
		log.Panicf("table %s does not exist", tableName)
	}

	if t := reflect.TypeOf(row); t != s.rowType {
		log.Panicf("table %s stores %s, not %s", tableName, s.rowType, t)
	}

	s.pending = append(s.pending, structs.Values(row))

	r.numRows++
	if r.numRows >= flushThreshold {
		r.flush()
	}
}

func (r *sqliteRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flush()
}

func (r *sqliteRecorder) flush() {
	if r.numRows == 0 || r.isClosed {
		return
	}

	tx, err := r.db.Begin()
	if err != nil {
		log.Panic(err)
	}

	for tableName, s := range r.tables {
		if err := s.writeTo(tx); err != nil {
			log.Panicf("flushing table %s: %v", tableName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		log.Panic(err)
	}

	r.numRows = 0
}

func (s *schema) writeTo(tx *sql.Tx) error {
	if len(s.pending) == 0 {
		return nil
	}

	stmt, err := tx.Prepare(s.insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, values := range s.pending {
		if _, err := stmt.Exec(values...); err != nil {
			return err
		}
	}

	s.pending = nil

	return nil
}

func (r *sqliteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isClosed {
		return nil
	}

	r.flush()
	r.isClosed = true

	return r.db.Close()
}
