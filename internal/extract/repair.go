package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seikyu-ai/seikyubot/internal/invoice"
)

// parseInvoiceJSON pulls the JSON object out of a model response and
// parses it, applying progressively more aggressive repairs. Model output
// can arrive wrapped in markdown fences, with trailing commas, or
// truncated mid-string when the token budget runs out.
func parseInvoiceJSON(generated string) (invoice.Data, error) {
	cleaned := stripFences(generated)
	candidate := extractObject(cleaned)
	if candidate == "" {
		return invoice.Data{}, fmt.Errorf("no JSON object in extraction response")
	}

	strategies := []func(string) string{
		func(s string) string { return s },
		removeTrailingCommas,
		func(s string) string { return balanceBrackets(removeTrailingCommas(s)) },
		func(s string) string { return balanceBrackets(closeUnterminatedStrings(removeTrailingCommas(s))) },
	}

	var lastErr error
	for _, repair := range strategies {
		var data invoice.Data
		if err := json.Unmarshal([]byte(repair(candidate)), &data); err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return invoice.Data{}, fmt.Errorf("parse extraction JSON: %w", lastErr)
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// extractObject returns the substring from the first '{' to the last '}',
// or from the first '{' to the end when the object was truncated.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end > start {
		return s[start : end+1]
	}
	return s[start:]
}

// removeTrailingCommas drops commas that directly precede a closing
// bracket or brace.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// closeUnterminatedStrings appends a closing quote to any line carrying an
// odd number of unescaped quotes.
func closeUnterminatedStrings(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		count := 0
		for j := 0; j < len(line); j++ {
			if line[j] == '"' && (j == 0 || line[j-1] != '\\') {
				count++
			}
		}
		if count%2 != 0 && !strings.HasSuffix(strings.TrimSpace(line), `"`) {
			lines[i] = line + `"`
		}
	}
	return strings.Join(lines, "\n")
}

// balanceBrackets appends the closing brackets a truncated response
// dropped. Bracket characters inside string literals are ignored.
func balanceBrackets(s string) string {
	braces, brackets := 0, 0
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			braces++
		case '}':
			braces--
		case '[':
			brackets++
		case ']':
			brackets--
		}
	}
	for ; brackets > 0; brackets-- {
		s += "]"
	}
	for ; braces > 0; braces-- {
		s += "}"
	}
	return s
}
