package sqlgpt

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/tools/sqldatabase"
	_ "github.com/tmc/langchaingo/tools/sqldatabase/postgresql"

	"github.com/sqlgpt/sqlgpt/internal/pgutil"
)

const (
	defaultProvider    = "googleai"
	defaultGoogleModel = "gemini-2.5-flash"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultClaudeModel = "claude-3-5-sonnet-latest"
	defaultTemperature = 0.7
	defaultTopK        = 5
)

// Translator turns free-text questions into SQL against one bound table and
// answers with the query result.
type Translator interface {
	Ask(ctx context.Context, question string) (string, error)
	TableNames() []string
	Close() error
}

// BindFunc builds a Translator bound to the given table reference.
type BindFunc func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error)

type SetupOptions struct {
	Provider string
	Bind     BindFunc
}

type SetupOption func(*SetupOptions)

func WithProvider(provider string) SetupOption {
	return func(opts *SetupOptions) {
		opts.Provider = provider
	}
}

func WithBindFunc(bind BindFunc) SetupOption {
	return func(opts *SetupOptions) {
		opts.Bind = bind
	}
}

// credentialVar names the environment variable holding the API key for a
// provider.
func credentialVar(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

// Setup builds a Translator for the identifier. The credential check runs
// first, then the existence check; when the table does not exist the LLM
// provider is never contacted and the error is tagged ReasonTableNotFound
// so single-shot callers can refuse to fall back to raw SQL.
func Setup(ctx context.Context, conn *pgutil.Conn, identifier string, opts ...SetupOption) (Translator, error) {
	setupOpts := &SetupOptions{Provider: defaultProvider}
	for _, opt := range opts {
		opt(setupOpts)
	}
	if setupOpts.Bind == nil {
		setupOpts.Bind = langchainBind(setupOpts.Provider)
	}

	envVar := credentialVar(setupOpts.Provider)
	if os.Getenv(envVar) == "" {
		return nil, &QueryError{
			Reason: ReasonCredentialMissing,
			Err:    fmt.Errorf("%s environment variable is not set", envVar),
		}
	}

	ref := conn.ResolveSchema(ctx, identifier)
	if !conn.TableExists(ctx, identifier) {
		return nil, &QueryError{
			Reason: ReasonTableNotFound,
			Err:    fmt.Errorf("table %s not found in database", identifier),
		}
	}

	translator, err := setupOpts.Bind(ctx, conn, ref)
	if err != nil {
		return nil, &QueryError{Reason: ReasonSetupError, Err: err}
	}

	return translator, nil
}

// langchainBind is the default BindFunc: a completion model plus a
// sqldatabase reflection of the connection, joined by a SQL database chain
// bound to exactly one table.
func langchainBind(provider string) BindFunc {
	return func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
		model, err := newModel(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("initialize %s model: %w", provider, err)
		}
		logrus.Infof("initialized %s model", provider)

		db, err := sqldatabase.NewSQLDatabaseWithDSN("postgresql", conn.DSN, nil)
		if err != nil {
			return nil, fmt.Errorf("reflect database schema: %w", err)
		}

		usable := db.TableNames()
		logrus.Infof("available tables: %v", usable)

		target := chooseTableName(ref, usable)
		logrus.Infof("binding query engine to table %s", target)

		return &sqlChainTranslator{
			chain: chains.NewSQLDatabaseChain(model, defaultTopK, db),
			db:    db,
			table: target,
		}, nil
	}
}

func newModel(ctx context.Context, provider string) (llms.Model, error) {
	switch provider {
	case "googleai":
		return googleai.New(ctx,
			googleai.WithAPIKey(os.Getenv(credentialVar(provider))),
			googleai.WithDefaultModel(defaultGoogleModel),
		)
	case "openai":
		return openai.New(openai.WithModel(defaultOpenAIModel))
	case "anthropic":
		return anthropic.New(anthropic.WithModel(defaultClaudeModel))
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// chooseTableName picks which literal table name to hand to the query
// engine. The reflection layer may report schema-qualified tables without
// their prefix, so the bare name wins when usable, then the qualified name,
// then whichever of the two is non-empty.
func chooseTableName(ref pgutil.TableRef, usable []string) string {
	set := make(map[string]struct{}, len(usable))
	for _, name := range usable {
		set[name] = struct{}{}
	}

	if _, ok := set[ref.Table]; ok && ref.Table != "" {
		return ref.Table
	}
	if full := ref.String(); ref.Schema != "" {
		if _, ok := set[full]; ok {
			return full
		}
	}
	if ref.Table != "" {
		return ref.Table
	}
	return ref.String()
}

type sqlChainTranslator struct {
	chain chains.Chain
	db    *sqldatabase.SQLDatabase
	table string
}

func (t *sqlChainTranslator) Ask(ctx context.Context, question string) (string, error) {
	out, err := chains.Call(ctx, t.chain, map[string]any{
		"query":              question,
		"table_names_to_use": []string{t.table},
	}, chains.WithTemperature(defaultTemperature))
	if err != nil {
		return "", &QueryError{Reason: ReasonExecutionError, Err: err}
	}

	result, ok := out["result"].(string)
	if !ok {
		return "", &QueryError{
			Reason: ReasonExecutionError,
			Err:    fmt.Errorf("unexpected chain output: %v", out),
		}
	}

	return strings.TrimSpace(result), nil
}

func (t *sqlChainTranslator) TableNames() []string { return t.db.TableNames() }

func (t *sqlChainTranslator) Close() error { return t.db.Close() }

// RunNL forwards text to the translator and renders its response.
func RunNL(ctx context.Context, w io.Writer, translator Translator, text string) error {
	fmt.Fprintf(w, "=== Natural Language Query: %s ===\n", text)

	resp, err := translator.Ask(ctx, text)
	if err != nil {
		fmt.Fprintf(w, "error executing natural language query: %+v\n", err)
		return err
	}

	fmt.Fprintf(w, "Response: %s\n", resp)
	return nil
}
