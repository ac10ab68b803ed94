package sqlgpt

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlgpt/sqlgpt/internal/pgutil"
)

type fakeTranslator struct {
	answer string
	askErr error
	tables []string
	asked  []string
	closed bool
}

func (f *fakeTranslator) Ask(ctx context.Context, question string) (string, error) {
	f.asked = append(f.asked, question)
	if f.askErr != nil {
		return "", f.askErr
	}
	return f.answer, nil
}

func (f *fakeTranslator) TableNames() []string { return f.tables }

func (f *fakeTranslator) Close() error {
	f.closed = true
	return nil
}

func TestChooseTableName(t *testing.T) {
	tests := []struct {
		name   string
		ref    pgutil.TableRef
		usable []string
		want   string
	}{
		{
			name:   "bare name preferred over qualified",
			ref:    pgutil.TableRef{Schema: "public", Table: "orders"},
			usable: []string{"orders"},
			want:   "orders",
		},
		{
			name:   "qualified name when only it is usable",
			ref:    pgutil.TableRef{Schema: "analytics", Table: "events"},
			usable: []string{"analytics.events"},
			want:   "analytics.events",
		},
		{
			name:   "falls back to bare name when neither is usable",
			ref:    pgutil.TableRef{Schema: "analytics", Table: "events"},
			usable: []string{"users"},
			want:   "events",
		},
		{
			name:   "bare identifier not in usable set",
			ref:    pgutil.TableRef{Table: "events"},
			usable: []string{"users"},
			want:   "events",
		},
		{
			name:   "no usable tables at all",
			ref:    pgutil.TableRef{Schema: "s", Table: "t"},
			usable: nil,
			want:   "t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chooseTableName(tt.ref, tt.usable))
		})
	}
}

func TestCredentialVar(t *testing.T) {
	assert.Equal(t, "GEMINI_API_KEY", credentialVar("googleai"))
	assert.Equal(t, "OPENAI_API_KEY", credentialVar("openai"))
	assert.Equal(t, "ANTHROPIC_API_KEY", credentialVar("anthropic"))
}

func TestSetupCredentialMissing(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	conn, mock := newMockConn(t)

	bound := false
	_, err := Setup(context.Background(), conn, "users", WithBindFunc(
		func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
			bound = true
			return nil, nil
		}))

	require.Error(t, err)
	assert.Equal(t, ReasonCredentialMissing, ReasonOf(err))
	assert.False(t, bound)
	assertSQLMock(t, mock)
}

func TestSetupTableNotFoundNeverBinds(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	conn, mock := newMockConn(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM missing LIMIT 1")).
		WillReturnError(errors.New(`relation "missing" does not exist`))

	bound := false
	_, err := Setup(context.Background(), conn, "missing", WithBindFunc(
		func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
			bound = true
			return &fakeTranslator{}, nil
		}))

	require.Error(t, err)
	assert.Equal(t, ReasonTableNotFound, ReasonOf(err))
	assert.False(t, bound, "bind must not run when the table does not exist")
	assertSQLMock(t, mock)
}

func TestSetupBindFailureTaggedSetupError(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	conn, mock := newMockConn(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := Setup(context.Background(), conn, "users", WithBindFunc(
		func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
			return nil, errors.New("model unavailable")
		}))

	require.Error(t, err)
	assert.Equal(t, ReasonSetupError, ReasonOf(err))
	assertSQLMock(t, mock)
}

func TestSetupSuccess(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	conn, mock := newMockConn(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM users LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	want := &fakeTranslator{tables: []string{"users"}}
	translator, err := Setup(context.Background(), conn, "users", WithBindFunc(
		func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
			assert.Equal(t, pgutil.TableRef{Table: "users"}, ref)
			return want, nil
		}))

	require.NoError(t, err)
	assert.Same(t, want, translator)
	assertSQLMock(t, mock)
}

func TestSetupProviderCredentialLookup(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "unused")
	t.Setenv("OPENAI_API_KEY", "")
	conn, mock := newMockConn(t)

	_, err := Setup(context.Background(), conn, "users",
		WithProvider("openai"),
		WithBindFunc(func(ctx context.Context, conn *pgutil.Conn, ref pgutil.TableRef) (Translator, error) {
			return &fakeTranslator{}, nil
		}))

	require.Error(t, err)
	assert.Equal(t, ReasonCredentialMissing, ReasonOf(err))
	assertSQLMock(t, mock)
}

func TestRunNLPrintsResponse(t *testing.T) {
	translator := &fakeTranslator{answer: "There are 3 users."}

	var buf strings.Builder
	err := RunNL(context.Background(), &buf, translator, "how many users are there?")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "=== Natural Language Query: how many users are there? ===")
	assert.Contains(t, buf.String(), "Response: There are 3 users.")
	assert.Equal(t, []string{"how many users are there?"}, translator.asked)
}

func TestRunNLError(t *testing.T) {
	translator := &fakeTranslator{askErr: errors.New("model overloaded")}

	var buf strings.Builder
	err := RunNL(context.Background(), &buf, translator, "anything")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "error executing natural language query")
}
