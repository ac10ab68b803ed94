package sqlgpt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sqlgpt/sqlgpt/internal/pgutil"
)

// SetupFunc builds a Translator for a table identifier. The session treats
// any error as "natural language unavailable" and keeps going with SQL.
type SetupFunc func(ctx context.Context, conn *pgutil.Conn, identifier string) (Translator, error)

// Session is the interactive loop. Phase 1 acquires a valid table, phase 2
// dispatches commands until quit or end of input.
type Session struct {
	conn  *pgutil.Conn
	in    io.Reader
	out   io.Writer
	setup SetupFunc

	lines      chan string
	table      string
	translator Translator
}

type SessionOption func(*Session)

func WithSetupFunc(setup SetupFunc) SessionOption {
	return func(s *Session) {
		s.setup = setup
	}
}

func NewSession(conn *pgutil.Conn, in io.Reader, out io.Writer, opts ...SessionOption) *Session {
	s := &Session{
		conn: conn,
		in:   in,
		out:  out,
		setup: func(ctx context.Context, conn *pgutil.Conn, identifier string) (Translator, error) {
			return Setup(ctx, conn, identifier)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Run(ctx context.Context) {
	s.lines = make(chan string)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case s.lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		close(s.lines)
	}()

	fmt.Fprintln(s.out, "=== SQL Query CLI - Interactive Mode ===")
	fmt.Fprintln(s.out, "Type 'quit' or 'exit' to stop")
	s.printHelp()
	fmt.Fprintln(s.out)

	if !s.acquireTable(ctx) {
		fmt.Fprintln(s.out, "\nGoodbye!")
		return
	}

	s.dispatch(ctx)

	if s.translator != nil {
		_ = s.translator.Close()
	}
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  sql <query>     - Execute direct SQL query")
	fmt.Fprintln(s.out, "  nl <query>      - Execute natural language query")
	fmt.Fprintln(s.out, "  table <name>    - Set/change table name")
	fmt.Fprintln(s.out, "  show tables     - List available tables")
	fmt.Fprintln(s.out, "  help            - Show this help")
}

// readLine blocks for the next input line. False means the session should
// end: the context was canceled or input ran out. A line arriving after
// cancellation is discarded.
func (s *Session) readLine(ctx context.Context) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-s.lines:
		if !ok || ctx.Err() != nil {
			return "", false
		}
		return line, true
	}
}

// acquireTable loops until a queryable table is named. Returns false on
// interrupt or end of input.
func (s *Session) acquireTable(ctx context.Context) bool {
	for {
		fmt.Fprint(s.out, "Enter table name: ")
		line, ok := s.readLine(ctx)
		if !ok {
			return false
		}

		name := strings.TrimSpace(line)
		if name == "" {
			fmt.Fprintln(s.out, "Table name is required for interactive mode")
			continue
		}

		if !s.conn.TableExists(ctx, name) {
			fmt.Fprintln(s.out, "Please try again with a valid table name.")
			fmt.Fprintln(s.out)
			continue
		}

		s.conn.ResolveSchema(ctx, name)
		s.table = name

		// Best effort: a setup failure only disables NL commands.
		translator, err := s.setup(ctx, s.conn, name)
		if err != nil {
			logrus.WithError(err).Warn("natural language setup failed")
		} else {
			s.translator = translator
		}

		fmt.Fprintf(s.out, "\nTable set to: %s\n", name)
		if s.translator != nil {
			fmt.Fprintln(s.out, "Natural language queries are available")
		} else {
			fmt.Fprintln(s.out, "Only direct SQL queries are available")
		}
		fmt.Fprintln(s.out)

		return true
	}
}

func (s *Session) dispatch(ctx context.Context) {
	for {
		fmt.Fprint(s.out, "Query> ")
		line, ok := s.readLine(ctx)
		if !ok {
			fmt.Fprintln(s.out, "\nGoodbye!")
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case lower == "quit" || lower == "exit":
			fmt.Fprintln(s.out, "Goodbye!")
			return

		case lower == "help":
			s.printHelp()

		case lower == "show tables":
			s.showTables(ctx)

		case strings.HasPrefix(line, "table "):
			s.switchTable(ctx, strings.TrimSpace(line[len("table "):]))

		case strings.HasPrefix(line, "sql "):
			if query := strings.TrimSpace(line[len("sql "):]); query != "" {
				_ = RunSQL(ctx, s.out, s.conn, s.table, query)
			}

		case strings.HasPrefix(line, "nl "):
			if s.translator == nil {
				fmt.Fprintln(s.out, "Natural language queries are not available. Use 'sql' for direct SQL queries.")
				continue
			}
			if query := strings.TrimSpace(line[len("nl "):]); query != "" {
				_ = RunNL(ctx, s.out, s.translator, query)
			}

		default:
			if s.translator != nil {
				_ = RunNL(ctx, s.out, s.translator, line)
			} else {
				fmt.Fprintln(s.out, "Interpreting as SQL query (prefix with 'sql ' to be explicit):")
				_ = RunSQL(ctx, s.out, s.conn, s.table, line)
			}
		}
	}
}

func (s *Session) showTables(ctx context.Context) {
	if s.translator != nil {
		fmt.Fprintf(s.out, "Available tables: %v\n", s.translator.TableNames())
		return
	}

	tables, err := s.conn.ListTables(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error listing tables: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Available tables: %v\n", tables)
}

// switchTable re-validates before switching; on failure the previous table
// and translator stay active. A live translator is rebuilt for the new
// table, and NL goes unavailable if that rebuild fails.
func (s *Session) switchTable(ctx context.Context, name string) {
	if name == "" {
		return
	}

	if !s.conn.TableExists(ctx, name) {
		fmt.Fprintf(s.out, "Table %s not found in database\n", name)
		return
	}

	s.conn.ResolveSchema(ctx, name)
	s.table = name

	if s.translator == nil {
		fmt.Fprintf(s.out, "Table changed to: %s\n", name)
		return
	}

	_ = s.translator.Close()
	s.translator = nil

	translator, err := s.setup(ctx, s.conn, name)
	if err != nil {
		logrus.WithError(err).Warn("natural language setup failed")
		fmt.Fprintf(s.out, "Table changed to: %s\n", name)
		fmt.Fprintln(s.out, "NL setup failed - only direct SQL queries are available")
		return
	}

	s.translator = translator
	fmt.Fprintf(s.out, "Table changed to: %s\n", name)
	fmt.Fprintln(s.out, "Natural language queries are available")
}
