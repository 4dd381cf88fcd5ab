package nl2sql

import (
	"regexp"
	"strings"
)

var fencedSQL = regexp.MustCompile("(?is)```[ \t]*sql[ \t]*\\r?\\n(.*?)```")

// ExtractSQL pulls one statement out of a completion reply. Rules, in order: a fenced block
// tagged sql, then the first line starting with SELECT up to a blank line, a fence or a
// semicolon.
// ok is false when neither rule matches.
func ExtractSQL(reply string) (sql string, ok bool) {
	if match := fencedSQL.FindStringSubmatch(reply); match != nil {
		if statement := cleanStatement(match[1]); statement != "" {
			return statement, true
		}
	}

	lines := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "select") &&
			(len(trimmed) == 6 || !isWordByte(trimmed[6])) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}

	collected := make([]string, 0)
	for _, line := range lines[start:] {
		if trimmed := strings.TrimSpace(line); trimmed == "" || strings.HasPrefix(trimmed, "```") {
			break
		}
		if idx := strings.Index(line, ";"); idx >= 0 {
			collected = append(collected, line[:idx])
			break
		}
		collected = append(collected, line)
	}
	statement := cleanStatement(strings.Join(collected, "\n"))
	return statement, statement != ""
}

func cleanStatement(text string) string {
	statement := strings.TrimSpace(text)
	for strings.HasSuffix(statement, ";") {
		statement = strings.TrimSpace(strings.TrimSuffix(statement, ";"))
	}
	return statement
}

func isWordByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
