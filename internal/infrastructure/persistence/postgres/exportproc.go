package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/exportd/internal/application/worker"
)

// ExportProcedure invokes the export_rows database function and streams its
// result set. The function is treated as opaque: whatever columns it returns
// become the CSV header.
type ExportProcedure struct {
	pool *pgxpool.Pool
}

var _ worker.RowSource = (*ExportProcedure)(nil)

// NewExportProcedure creates a RowSource over the pool.
func NewExportProcedure(pool *pgxpool.Pool) *ExportProcedure {
	return &ExportProcedure{pool: pool}
}

// ExportRows invokes the procedure for one unit.
func (p *ExportProcedure) ExportRows(ctx context.Context, indexKey string, effectiveDate time.Time, asofIndicator string) (worker.Rows, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT * FROM export_rows($1, $2, $3)`,
		indexKey, effectiveDate, asofIndicator)
	if err != nil {
		return nil, classifyProcError(fmt.Errorf("failed to invoke export procedure: %w", err))
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &procRows{rows: rows, columns: columns}, nil
}

type procRows struct {
	rows    pgx.Rows
	columns []string
}

func (r *procRows) Columns() []string { return r.columns }
func (r *procRows) Next() bool        { return r.rows.Next() }

// Values formats the current row for CSV output.
func (r *procRows) Values() ([]string, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, classifyProcError(fmt.Errorf("failed to decode row: %w", err))
	}
	record := make([]string, len(values))
	for i, v := range values {
		record[i] = formatValue(v)
	}
	return record, nil
}

func (r *procRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return classifyProcError(fmt.Errorf("row stream failed: %w", err))
	}
	return nil
}

func (r *procRows) Close() { r.rows.Close() }

// formatValue renders one database value as a CSV field.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// classifyProcError marks procedure errors for the retry policy. SQLSTATE
// classes for bad data, constraint violations, and invalid SQL cannot be
// fixed by retrying; everything else (connection loss, timeouts, admin
// shutdown) is transient.
func classifyProcError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23", "42":
			return err
		}
	}
	return worker.Transient(err)
}
