package assistant

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kpisync/kpisync/internal/store"
)

var (
	cteName     = regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)("[^"]+"|[A-Za-z_][\w$]*)\s*(?:\([^)]*\)\s*)?as\s*(?:not\s+)?(?:materialized\s+)?\(`)
	dollarQuote = regexp.MustCompile(`^\$[A-Za-z_]*\$`)
)

// generators produce rows without reading any table or file.
var generators = map[string]struct{}{
	"range":           {},
	"generate_series": {},
	"unnest":          {},
}

// clauseKeywords end a FROM list at the depth they appear.
var clauseKeywords = map[string]struct{}{
	"where": {}, "group": {}, "order": {}, "limit": {}, "offset": {}, "having": {},
	"qualify": {}, "window": {}, "union": {}, "except": {}, "intersect": {}, "select": {},
	"returning": {},
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuoted
	tokenString
	tokenPunct
	tokenOther
)

type token struct {
	kind tokenKind
	text string
}

func (t token) is(keyword string) bool {
	return t.kind == tokenWord && strings.EqualFold(t.text, keyword)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokenPunct && t.text == p
}

func (t token) isName() bool {
	return t.kind == tokenWord || t.kind == tokenQuoted
}

// frame is one parenthesis level.
type frame struct {
	// call is set for the argument list of a function, where FROM is part of the syntax
	// (EXTRACT, TRIM, SUBSTRING).
	call     bool
	fromList bool
	first    bool
}

// uncataloguedTables lists every relation the statement reads that is neither catalogued nor
// defined as a CTE. Every item of every FROM list and JOIN is checked. Table functions other
// than pure generators, string literals used as tables and names qualified by anything but
// main are reported too.
func uncataloguedTables(sqlText string, catalog store.Catalog) []string {
	defined := map[string]struct{}{}
	for _, match := range cteName.FindAllStringSubmatch(sqlText, -1) {
		defined[strings.ToLower(unquote(match[1]))] = struct{}{}
	}

	missing := make([]string, 0)
	seen := map[string]struct{}{}
	report := func(name string) {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		missing = append(missing, name)
	}

	tokens := tokenize(sqlText)
	stack := []*frame{{}}
	expect := false
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		top := stack[len(stack)-1]
		if top.first {
			top.first = false
			if tok.is("select") || tok.is("with") || tok.is("from") || tok.is("values") {
				top.call = false
				top.fromList = false
				expect = false
			}
		}

		switch {
		case tok.isPunct("("):
			f := &frame{first: true, call: i > 0 && tokens[i-1].kind == tokenWord}
			if expect {
				// A subquery or a parenthesized join; expect stays set for the latter.
				f.call = false
				f.fromList = true
			}
			stack = append(stack, f)
			continue
		case tok.isPunct(")"):
			expect = false
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		if expect {
			expect = false
			switch {
			case tok.is("lateral"):
				expect = true
			case tok.kind == tokenString:
				report("'" + tok.text + "'")
			case tok.isName():
				parts, next := qualifiedName(tokens, i)
				i = next - 1
				name := strings.Join(parts, ".")
				if next < len(tokens) && tokens[next].isPunct("(") {
					if !isGenerator(parts) {
						report(name + "()")
					}
					continue
				}
				if !allowedTable(parts, defined, catalog) {
					report(name)
				}
			}
			continue
		}

		switch {
		case tok.is("from") && !top.call:
			top.fromList = true
			expect = true
		case tok.is("join"):
			expect = true
		case tok.isPunct(",") && top.fromList:
			expect = true
		case tok.kind == tokenWord:
			if _, ok := clauseKeywords[strings.ToLower(tok.text)]; ok {
				top.fromList = false
			}
		}
	}
	return missing
}

// qualifiedName reads name(.name)* starting at tokens[i] and returns the unquoted parts and the
// index after the name.
func qualifiedName(tokens []token, i int) ([]string, int) {
	parts := []string{tokens[i].text}
	j := i + 1
	for j+1 < len(tokens) && tokens[j].isPunct(".") && tokens[j+1].isName() {
		parts = append(parts, tokens[j+1].text)
		j += 2
	}
	return parts, j
}

func allowedTable(parts []string, defined map[string]struct{}, catalog store.Catalog) bool {
	switch len(parts) {
	case 1:
		if _, ok := defined[strings.ToLower(parts[0])]; ok {
			return true
		}
	case 2:
		if !strings.EqualFold(parts[0], "main") {
			return false
		}
	default:
		return false
	}
	_, ok := catalog.LookupTable(parts[len(parts)-1])
	return ok
}

func isGenerator(parts []string) bool {
	if len(parts) != 1 {
		return false
	}
	_, ok := generators[strings.ToLower(parts[0])]
	return ok
}

func checkCatalog(sqlText string, catalog store.Catalog) error {
	missing := uncataloguedTables(sqlText, catalog)
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("tables not in the catalog: %s", strings.Join(missing, ", "))
}

// tokenize splits sqlText into words, quoted identifiers, string literals and punctuation.
// Comments are dropped. Quoted identifiers and strings carry their unescaped text.
func tokenize(sqlText string) []token {
	runes := []rune(sqlText)
	tokens := make([]token, 0, len(runes)/4)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := strings.Index(string(runes[i+2:]), "*/")
			if end < 0 {
				return tokens
			}
			i += 2 + len([]rune(string(runes[i+2:])[:end])) + 2
		case r == '\'' || r == '"':
			text, next := readQuoted(runes, i, r)
			kind := tokenString
			if r == '"' {
				kind = tokenQuoted
			}
			tokens = append(tokens, token{kind: kind, text: text})
			i = next
		case r == '$' && dollarQuote.MatchString(string(runes[i:])):
			tag := dollarQuote.FindString(string(runes[i:]))
			rest := string(runes[i+len([]rune(tag)):])
			end := strings.Index(rest, tag)
			if end < 0 {
				tokens = append(tokens, token{kind: tokenString, text: rest})
				return tokens
			}
			tokens = append(tokens, token{kind: tokenString, text: rest[:end]})
			i += len([]rune(tag)) + len([]rune(rest[:end])) + len([]rune(tag))
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && (runes[i] == '_' || runes[i] == '$' || unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i])})
		case strings.ContainsRune("(),.;", r):
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		default:
			start := i
			i++
			if unicode.IsDigit(r) {
				for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '_') {
					i++
				}
			}
			tokens = append(tokens, token{kind: tokenOther, text: string(runes[start:i])})
		}
	}
	return tokens
}

// readQuoted reads a literal opened by quote at runes[start]; a doubled quote is an escaped one.
func readQuoted(runes []rune, start int, quote rune) (string, int) {
	var b strings.Builder
	i := start + 1
	for i < len(runes) {
		if runes[i] == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				b.WriteRune(quote)
				i += 2
				continue
			}
			return b.String(), i + 1
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String(), i
}

func unquote(identifier string) string {
	if len(identifier) >= 2 && strings.HasPrefix(identifier, `"`) && strings.HasSuffix(identifier, `"`) {
		return strings.ReplaceAll(identifier[1:len(identifier)-1], `""`, `"`)
	}
	return identifier
}
