// Package assistant answers natural language questions: it asks the completion service for SQL,
// runs that SQL read-only against the local store and optionally asks for a summary.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/nl2sql"
	"github.com/kpisync/kpisync/internal/observability"
	"github.com/kpisync/kpisync/internal/store"
)

type State string

const (
	StateAwaitingQuestion State = "AwaitingQuestion"
	StateRejected         State = "Rejected"
	StateSQLRequested     State = "SQLRequested"
	StateCompletionFailed State = "CompletionFailed"
	StateSQLExtracted     State = "SQLExtracted"
	StateNoSQLFound       State = "NoSQLFound"
	StateExecuted         State = "Executed"
	StateExecutionFailed  State = "ExecutionFailed"
	StateSummarized       State = "Summarized"
)

const (
	MessageEmptyQuestion     = "please enter a question"
	MessageCompletionFailure = "could not reach the assistant"
)

// ExecutionError is a failed run of extracted SQL. The SQL is always kept for display.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute generated sql: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Store is the part of a local store the assistant reads.
type Store interface {
	ListCatalog(ctx context.Context) ([]store.CatalogEntry, error)
	ListRelationships(ctx context.Context) ([]store.Relationship, error)
	Query(ctx context.Context, sqlText string, rowLimit int) (store.QueryResult, error)
	InsertInteraction(ctx context.Context, in store.Interaction) (store.Interaction, error)
}

type Options struct {
	MaxTables   int
	RowLimit    int
	Summarize   bool
	SummaryRows int
}

type Answer struct {
	Question     string          `json:"question"`
	State        State           `json:"state"`
	Path         []State         `json:"path"`
	Message      string          `json:"message,omitempty"`
	Reply        string          `json:"reply,omitempty"`
	SQL          string          `json:"sql,omitempty"`
	Columns      []string        `json:"columns,omitempty"`
	Rows         [][]any         `json:"rows,omitempty"`
	Summary      *nl2sql.Summary `json:"summary,omitempty"`
	SummaryError string          `json:"summary_error,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (a *Answer) enter(state State) {
	a.State = state
	a.Path = append(a.Path, state)
}

type Assistant struct {
	completer completion.Completer
	opts      Options
	logger    *slog.Logger
}

func New(completer completion.Completer, opts Options, logger *slog.Logger) *Assistant {
	if opts.MaxTables <= 0 {
		opts.MaxTables = nl2sql.DefaultMaxTables
	}
	if opts.SummaryRows <= 0 {
		opts.SummaryRows = 20
	}
	return &Assistant{completer: completer, opts: opts, logger: observability.Component(logger, "assistant")}
}

// Ask runs one question to a terminal state. A *completion.Error is returned with the
// CompletionFailed state and an *ExecutionError with the ExecutionFailed state; every other
// terminal state returns a nil error.
func (a *Assistant) Ask(ctx context.Context, userID string, st Store, question string) (Answer, error) {
	answer := Answer{Question: question}
	answer.enter(StateAwaitingQuestion)

	err := a.run(ctx, st, question, &answer)
	observability.ObserveQuestion(string(answer.State))
	if answer.State != StateRejected {
		a.record(ctx, userID, st, answer)
	}
	return answer, err
}

func (a *Assistant) run(ctx context.Context, st Store, question string, answer *Answer) error {
	if strings.TrimSpace(question) == "" {
		answer.enter(StateRejected)
		answer.Message = MessageEmptyQuestion
		return nil
	}

	entries, err := st.ListCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	relationships, err := st.ListRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}

	answer.enter(StateSQLRequested)
	reply, err := a.completer.Complete(ctx, completion.Request{Messages: nl2sql.BuildPrompt(nl2sql.PromptInput{
		Question:      question,
		Catalog:       entries,
		Relationships: relationships,
		MaxTables:     a.opts.MaxTables,
	})})
	if err != nil {
		answer.enter(StateCompletionFailed)
		answer.Message = MessageCompletionFailure
		answer.Error = err.Error()
		return asCompletionError(err)
	}
	answer.Reply = reply

	sqlText, ok := nl2sql.ExtractSQL(reply)
	if !ok {
		answer.enter(StateNoSQLFound)
		answer.Message = reply
		return nil
	}
	answer.enter(StateSQLExtracted)
	answer.SQL = sqlText

	result, err := a.execute(ctx, st, sqlText, store.NewCatalog(entries))
	if err != nil {
		answer.enter(StateExecutionFailed)
		answer.Error = err.Error()
		return &ExecutionError{SQL: sqlText, Err: err}
	}
	answer.enter(StateExecuted)
	answer.Columns = result.Columns
	answer.Rows = result.Rows

	if !a.opts.Summarize {
		return nil
	}
	summaryReply, err := a.completer.Complete(ctx, completion.Request{
		Messages: nl2sql.BuildSummaryPrompt(question, sqlText, result, a.opts.SummaryRows),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "summary failed, keeping rows", slog.Any("error", err))
		answer.SummaryError = err.Error()
		return nil
	}
	summary := nl2sql.ParseSummary(summaryReply)
	answer.Summary = &summary
	answer.enter(StateSummarized)
	return nil
}

func (a *Assistant) execute(ctx context.Context, st Store, sqlText string, catalog store.Catalog) (store.QueryResult, error) {
	if err := checkCatalog(sqlText, catalog); err != nil {
		return store.QueryResult{}, err
	}
	return st.Query(ctx, sqlText, a.opts.RowLimit)
}

func (a *Assistant) record(ctx context.Context, userID string, st Store, answer Answer) {
	reply := answer.Message
	if answer.Summary != nil {
		reply = answer.Summary.Text
	} else if answer.Error != "" {
		reply = answer.Error
	} else if reply == "" && answer.State == StateExecuted {
		reply = fmt.Sprintf("%d rows", len(answer.Rows))
	}
	_, err := st.InsertInteraction(ctx, store.Interaction{
		UserID:   userID,
		Question: answer.Question,
		SQL:      answer.SQL,
		Reply:    reply,
		State:    string(answer.State),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "interaction log write failed", slog.Any("error", err))
	}
}

func asCompletionError(err error) error {
	var completionErr *completion.Error
	if errors.As(err, &completionErr) {
		return err
	}
	return &completion.Error{Provider: "unknown", Err: err}
}
