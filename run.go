package sqlgpt

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sqlgpt/sqlgpt/internal/pgutil"
)

// Options is the command-line surface.
type Options struct {
	Table       string
	Query       string
	DirectSQL   bool
	Interactive bool
	DatabaseURL string
	LLMProvider string
}

// Run connects and executes one invocation: the interactive session, a
// direct SQL query, or a natural-language query with its fallback rules.
func Run(ctx context.Context, opts Options, in io.Reader, out io.Writer) error {
	conn, err := pgutil.Connect(ctx, opts.DatabaseURL)
	if err != nil {
		return &QueryError{Reason: ReasonConnectionError, Err: err}
	}
	defer conn.Close()

	logrus.Info("connected to database")

	return runWith(ctx, conn, opts, in, out, nil)
}

// runWith holds everything after the connection so tests can drive it with
// their own conn and setup function. A nil setup means the default Setup
// with the configured provider.
func runWith(ctx context.Context, conn *pgutil.Conn, opts Options, in io.Reader, out io.Writer, setup SetupFunc) error {
	if setup == nil {
		setup = func(ctx context.Context, conn *pgutil.Conn, identifier string) (Translator, error) {
			return Setup(ctx, conn, identifier, WithProvider(opts.LLMProvider))
		}
	}

	if opts.Interactive {
		NewSession(conn, in, out, WithSetupFunc(setup)).Run(ctx)
		return nil
	}

	if opts.DirectSQL {
		return RunSQL(ctx, out, conn, opts.Table, opts.Query)
	}

	translator, err := setup(ctx, conn, opts.Table)
	if err != nil {
		if ReasonOf(err) == ReasonTableNotFound {
			fmt.Fprintln(out, "Cannot proceed: table not found in database")
			fmt.Fprintln(out, "Please verify the table name and ensure it exists in the database")
			return err
		}

		logrus.WithError(err).Warn("natural language setup failed, falling back to direct SQL")
		return RunSQL(ctx, out, conn, opts.Table, opts.Query)
	}
	defer translator.Close()

	return RunNL(ctx, out, translator, opts.Query)
}
