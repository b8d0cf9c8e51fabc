package dao

import (
	"context"
	"time"
)

// DataAccessObject is the uniform operation set every engine adapter implements.
//
// Rows are engine independent maps. Primary keys are passed as rows holding
// only the key columns; for keyless tables the full row is the key. All
// methods except TestConnect return typed errors (see Kind).
type DataAccessObject interface {
	// AddRow inserts row and returns the primary key of the new row, or the
	// inserted values for keyless tables.
	AddRow(ctx context.Context, table string, row Row) (Row, error)
	UpdateRow(ctx context.Context, table string, row Row, primaryKey Row) (Row, error)
	BulkUpdateRows(ctx context.Context, table string, newValues Row, primaryKeys []Row) ([]Row, error)
	DeleteRow(ctx context.Context, table string, primaryKey Row) (Row, error)
	BulkDeleteRows(ctx context.Context, table string, primaryKeys []Row) (int64, error)

	// GetRowByPrimaryKey returns nil, nil when no row matches.
	GetRowByPrimaryKey(ctx context.Context, table string, primaryKey Row, settings *TableSettings) (Row, error)
	BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []Row, settings *TableSettings) ([]Row, error)
	ListRows(ctx context.Context, table string, q ListQuery) (*PaginationResult, error)
	StreamRows(ctx context.Context, table string, q ListQuery) (RowStream, error)
	GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]Row, error)

	GetStructure(ctx context.Context, table string) ([]ColumnInfo, error)
	GetPrimaryKeys(ctx context.Context, table string) ([]PrimaryKeyInfo, error)
	GetForeignKeys(ctx context.Context, table string) ([]ForeignKeyInfo, error)
	GetReferencingTables(ctx context.Context, table string) ([]ReferencedTableNamesAndColumns, error)
	ListTables(ctx context.Context) ([]TableInfo, error)
	IsView(ctx context.Context, table string) (bool, error)

	ValidateSettings(ctx context.Context, settings TableSettings, table string) ([]string, error)
	// TestConnect never returns an error; failures are reported in the result.
	TestConnect(ctx context.Context) TestConnectResult
	ImportCSV(ctx context.Context, table string, data []byte) error
}

// Options tunes adapter behavior. Zero fields fall back to defaults.
type Options struct {
	LargeDatasetThreshold int64
	DefaultPerPage        int
	AutocompleteLimit     int
	SampleSize            int
	QueryTimeout          time.Duration

	ImportWorkers     int
	SQLBatchSize      int
	DynamoBatchSize   int
	DocumentBatchSize int
}

const (
	DefaultLargeDatasetThreshold = 100000
	DefaultPerPage               = 20
	DefaultAutocompleteLimit     = 20
	DefaultSampleSize            = 100
	DefaultQueryTimeout          = 30 * time.Second
	DefaultImportWorkers         = 3
	DefaultSQLBatchSize          = 100
	DefaultDynamoBatchSize       = 25
	DefaultDocumentBatchSize     = 1000
)

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.LargeDatasetThreshold <= 0 {
		o.LargeDatasetThreshold = DefaultLargeDatasetThreshold
	}
	if o.DefaultPerPage <= 0 {
		o.DefaultPerPage = DefaultPerPage
	}
	if o.AutocompleteLimit <= 0 {
		o.AutocompleteLimit = DefaultAutocompleteLimit
	}
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.ImportWorkers <= 0 {
		o.ImportWorkers = DefaultImportWorkers
	}
	if o.SQLBatchSize <= 0 {
		o.SQLBatchSize = DefaultSQLBatchSize
	}
	if o.DynamoBatchSize <= 0 || o.DynamoBatchSize > DefaultDynamoBatchSize {
		// BatchWriteItem accepts at most 25 requests.
		o.DynamoBatchSize = DefaultDynamoBatchSize
	}
	if o.DocumentBatchSize <= 0 {
		o.DocumentBatchSize = DefaultDocumentBatchSize
	}
	return o
}

// RowStream yields rows incrementally. It follows the database/sql.Rows
// iteration shape: call Next until it returns false, then check Err.
type RowStream interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// SliceStream is a fully materialized RowStream for engines that cannot stream.
type SliceStream struct {
	rows []Row
	pos  int
}

// NewSliceStream wraps rows.
func NewSliceStream(rows []Row) *SliceStream {
	return &SliceStream{rows: rows, pos: -1}
}

func (s *SliceStream) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceStream) Row() Row {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *SliceStream) Err() error   { return nil }
func (s *SliceStream) Close() error { return nil }

// Collect drains a stream.
func Collect(s RowStream) ([]Row, error) {
	defer s.Close()
	var rows []Row
	for s.Next() {
		rows = append(rows, s.Row())
	}
	return rows, s.Err()
}
