package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/config"
)

// Column is what a describer sees of one synced column.
type Column struct {
	Table  string
	Name   string
	Type   string
	Sample string
}

// Describer produces the free text description stored in the catalog.
type Describer interface {
	Describe(ctx context.Context, column Column) (string, error)
}

// NewDescriber returns the strategy named by kind. completer is only used by the completion
// strategy.
func NewDescriber(kind string, completer completion.Completer) (Describer, error) {
	switch kind {
	case config.DescriberTemplated, "":
		return Templated{}, nil
	case config.DescriberHeuristic:
		return Heuristic{}, nil
	case config.DescriberCompletion:
		if completer == nil {
			return nil, fmt.Errorf("completion describer needs a completion client")
		}
		return &Completion{Completer: completer, MaxTokens: 120}, nil
	default:
		return nil, fmt.Errorf("unknown describer %q", kind)
	}
}

type Templated struct{}

func (Templated) Describe(_ context.Context, column Column) (string, error) {
	return TemplatedText(column), nil
}

func TemplatedText(column Column) string {
	return fmt.Sprintf("Column '%s' of table '%s'. Type: %s. Example: %s", column.Name, column.Table, column.Type, column.Sample)
}

type keyword struct {
	fragments []string
	meaning   string
}

var tableKeywords = []keyword{
	{fragments: []string{"pedido"}, meaning: "sales order"},
	{fragments: []string{"notafiscal", "saida"}, meaning: "outbound invoice (revenue)"},
	{fragments: []string{"compra", "entrada"}, meaning: "purchase"},
	{fragments: []string{"caixa"}, meaning: "cash movement"},
	{fragments: []string{"produto"}, meaning: "product"},
	{fragments: []string{"cliente"}, meaning: "customer"},
	{fragments: []string{"fornecedor"}, meaning: "supplier"},
}

var columnKeywords = []keyword{
	{fragments: []string{"referencia"}, meaning: "product code"},
	{fragments: []string{"quant", "qtd"}, meaning: "quantity"},
	{fragments: []string{"data", "dt_"}, meaning: "date"},
	{fragments: []string{"cor"}, meaning: "color"},
	{fragments: []string{"tamanho"}, meaning: "size"},
	{fragments: []string{"valor", "preco", "total"}, meaning: "monetary value"},
	{fragments: []string{"tipo"}, meaning: "type or category"},
}

// Heuristic matches table and column names against domain keywords.
type Heuristic struct{}

func (Heuristic) Describe(_ context.Context, column Column) (string, error) {
	tableMeaning := match(tableKeywords, column.Table)
	columnMeaning := match(columnKeywords, column.Name)

	var sentence string
	switch {
	case columnMeaning != "" && tableMeaning != "":
		sentence = fmt.Sprintf("%s of the %s in table '%s' (column '%s').", capitalize(columnMeaning), tableMeaning, column.Table, column.Name)
	case columnMeaning != "":
		sentence = fmt.Sprintf("%s stored in column '%s' of table '%s'.", capitalize(columnMeaning), column.Name, column.Table)
	case tableMeaning != "":
		sentence = fmt.Sprintf("Attribute '%s' of the %s records in table '%s'.", column.Name, tableMeaning, column.Table)
	default:
		sentence = fmt.Sprintf("Field '%s' of table '%s'.", column.Name, column.Table)
	}
	if column.Sample != "" {
		sentence += fmt.Sprintf(" Example: %s", column.Sample)
	}
	return sentence, nil
}

func match(keywords []keyword, name string) string {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		for _, fragment := range kw.fragments {
			if strings.Contains(lower, fragment) {
				return kw.meaning
			}
		}
	}
	return ""
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}

// Completion asks the completion service for a one sentence description.
type Completion struct {
	Completer completion.Completer
	MaxTokens int
}

const describeInstruction = "You document database columns for business analysts. " +
	"Reply with one short sentence describing what the column holds. No preamble, no markdown."

func (c *Completion) Describe(ctx context.Context, column Column) (string, error) {
	reply, err := c.Completer.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: describeInstruction},
			{Role: completion.RoleUser, Content: fmt.Sprintf(
				"Table: %s\nColumn: %s\nType: %s\nExample value: %s",
				column.Table, column.Name, column.Type, column.Sample,
			)},
		},
		MaxTokens: c.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), `"`)), nil
}
