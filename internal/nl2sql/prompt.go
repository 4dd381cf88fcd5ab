// Package nl2sql builds completion prompts from the metadata catalog, pulls SQL out of free
// text replies and parses result summaries.
package nl2sql

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/kpisync/kpisync/internal/completion"
	"github.com/kpisync/kpisync/internal/store"
)

const DefaultMaxTables = 15

const systemInstruction = `You translate business questions into a single DuckDB SQL query.
DuckDB uses PostgreSQL-like SQL syntax.
Use only the tables and columns listed below. Never invent table or column names.
Write only SELECT statements. Quote identifiers with double quotes when they contain upper case letters.
Respond with the SQL only, inside a single ` + "```sql" + ` code block.`

type PromptInput struct {
	Question      string
	Catalog       []store.CatalogEntry
	Relationships []store.Relationship
	MaxTables     int
}

// BuildPrompt returns the system and user messages for SQL generation.
func BuildPrompt(in PromptInput) []completion.Message {
	tables := selectTables(in.Catalog, in.Question, in.MaxTables)
	included := map[string]struct{}{}

	var b strings.Builder
	b.WriteString("Tables:\n")
	for _, table := range tables {
		included[strings.ToLower(table.name)] = struct{}{}
		fmt.Fprintf(&b, "\nTable %s\n", table.name)
		for _, entry := range table.entries {
			fmt.Fprintf(&b, "  - %s (%s)", entry.Column, entry.Type)
			if description := strings.TrimSpace(entry.Description); description != "" {
				fmt.Fprintf(&b, ": %s", oneLine(description))
			}
			b.WriteString("\n")
		}
	}

	hints := joinHints(in.Relationships, included)
	if len(hints) > 0 {
		b.WriteString("\nKnown joins:\n")
		for _, hint := range hints {
			fmt.Fprintf(&b, "  - %s\n", hint)
		}
	}
	fmt.Fprintf(&b, "\nQuestion: %s\n", strings.TrimSpace(in.Question))

	return []completion.Message{
		{Role: completion.RoleSystem, Content: systemInstruction},
		{Role: completion.RoleUser, Content: b.String()},
	}
}

type tableEntries struct {
	name    string
	entries []store.CatalogEntry
	score   int
}

// selectTables keeps at most max tables, preferring those whose names, columns or
// descriptions share words with the question. Ties keep alphabetical order.
func selectTables(entries []store.CatalogEntry, question string, max int) []tableEntries {
	if max <= 0 {
		max = DefaultMaxTables
	}
	byTable := map[string]*tableEntries{}
	order := make([]string, 0)
	for _, entry := range entries {
		table, ok := byTable[entry.Table]
		if !ok {
			table = &tableEntries{name: entry.Table}
			byTable[entry.Table] = table
			order = append(order, entry.Table)
		}
		table.entries = append(table.entries, entry)
	}
	sort.Strings(order)

	words := tokens(question)
	tables := make([]tableEntries, 0, len(order))
	for _, name := range order {
		table := byTable[name]
		sort.SliceStable(table.entries, func(i, j int) bool { return table.entries[i].Ordinal < table.entries[j].Ordinal })
		table.score = relevance(*table, words)
		tables = append(tables, *table)
	}
	if len(tables) <= max {
		return tables
	}
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].score > tables[j].score })
	tables = tables[:max]
	sort.SliceStable(tables, func(i, j int) bool { return tables[i].name < tables[j].name })
	return tables
}

func relevance(table tableEntries, words map[string]struct{}) int {
	score := 0
	for word := range tokens(table.name) {
		if _, ok := words[word]; ok {
			score += 3
		}
	}
	for _, entry := range table.entries {
		for word := range tokens(entry.Column + " " + entry.Description) {
			if _, ok := words[word]; ok {
				score++
			}
		}
	}
	return score
}

func tokens(text string) map[string]struct{} {
	out := map[string]struct{}{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, field := range fields {
		if len(field) < 3 {
			continue
		}
		out[field] = struct{}{}
		if singular := strings.TrimSuffix(field, "s"); len(singular) >= 3 {
			out[singular] = struct{}{}
		}
	}
	return out
}

func joinHints(relationships []store.Relationship, included map[string]struct{}) []string {
	hints := make([]string, 0)
	for _, rel := range relationships {
		_, origin := included[strings.ToLower(rel.OriginTable)]
		_, destination := included[strings.ToLower(rel.DestinationTable)]
		if !origin || !destination {
			continue
		}
		hints = append(hints, fmt.Sprintf("%s.%s = %s.%s (%s)",
			rel.OriginTable, rel.OriginColumn, rel.DestinationTable, rel.DestinationColumn, rel.Cardinality))
	}
	return hints
}

func oneLine(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
