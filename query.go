package sqlgpt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/sqlgpt/sqlgpt/internal/pgutil"
)

// RunSQL executes query against the connection and renders the result set
// to w. An empty query means "show everything in the table". The identifier
// is interpolated as typed.
func RunSQL(ctx context.Context, w io.Writer, conn *pgutil.Conn, identifier, query string) error {
	if query == "" {
		query = fmt.Sprintf("SELECT * FROM %s", identifier)
		fmt.Fprintf(w, "=== All records from %s table (Direct SQL) ===\n", identifier)
	} else {
		fmt.Fprintf(w, "=== Executing SQL: %s ===\n", query)
	}

	rows, err := conn.DB.QueryContext(ctx, query)
	if err != nil {
		return &QueryError{Reason: ReasonExecutionError, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return &QueryError{Reason: ReasonExecutionError, Err: err}
	}

	var records [][]string
	for rows.Next() {
		vals := make([]any, len(cols))
		for i := range vals {
			vals[i] = new(any)
		}
		if err := rows.Scan(vals...); err != nil {
			return &QueryError{Reason: ReasonExecutionError, Err: err}
		}

		rec := make([]string, len(cols))
		for i, v := range vals {
			rec[i] = formatValue(*(v.(*any)))
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return &QueryError{Reason: ReasonExecutionError, Err: err}
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}

	fmt.Fprintf(w, "Found %d records:\n", len(records))
	header := strings.Join(cols, " | ")
	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", utf8.RuneCountInString(header)))
	for _, rec := range records {
		fmt.Fprintln(w, strings.Join(rec, " | "))
	}

	return nil
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
