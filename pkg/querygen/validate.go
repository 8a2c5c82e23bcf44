package querygen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Validation gate between LLM generation and store execution. Rejected
// text never reaches a store; the rejection reason feeds the corrective
// prompt.

var (
	codeFenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\n(.*?)\\n?```$")

	cypherForbiddenRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|CALL|DROP|FOREACH|LOAD\s+CSV)\b`)
	cypherParamRe     = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	// Relationship patterns containing a star, e.g. [:CAUSES*1..5].
	varLengthRelRe = regexp.MustCompile(`\[[^\]]*\*[^\]]*\]`)
	// The star segment itself: *N, *..N, *N..M, or a bare unbounded *.
	varLengthBoundRe = regexp.MustCompile(`\*\s*(\d+)?\s*(?:\.\.\s*(\d+)?)?`)

	sqlForbiddenRe    = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|ALTER|TRUNCATE|CREATE|GRANT|REVOKE|COPY)\b`)
	sqlPlaceholderRe  = regexp.MustCompile(`\$(\d+)`)
	sqlLimitClauseRe  = regexp.MustCompile(`(?i)\bLIMIT\b`)
	sqlSelectPrefixRe = regexp.MustCompile(`(?i)^\s*SELECT\b`)
)

// requiredAliases are the canonical output columns the executor scans by.
var requiredAliases = []string{"event_id", "description", "ts_start", "ts_end", "document_id", "confidence"}

// stripResponse removes markdown fences, surrounding whitespace, and a
// trailing semicolon from raw model output.
func stripResponse(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = strings.TrimSuffix(text, ";")
	return strings.TrimSpace(text)
}

// ValidateCypher checks generated Cypher against the read-only rules:
// no write or procedure clauses, canonical return aliases, every $param
// bound, and every variable-length pattern bounded by maxHops.
func ValidateCypher(text string, maxHops int, params map[string]any) error {
	if text == "" {
		return fmt.Errorf("empty query text")
	}
	if m := cypherForbiddenRe.FindString(text); m != "" {
		return fmt.Errorf("forbidden clause %q, only read queries are allowed", strings.ToUpper(m))
	}
	upper := strings.ToUpper(text)
	if !strings.Contains(upper, "MATCH") {
		return fmt.Errorf("missing MATCH clause")
	}
	if !strings.Contains(upper, "RETURN") {
		return fmt.Errorf("missing RETURN clause")
	}
	lower := strings.ToLower(text)
	for _, alias := range append(requiredAliases, "hop") {
		if !strings.Contains(lower, alias) {
			return fmt.Errorf("missing required return alias %q", alias)
		}
	}
	for _, m := range cypherParamRe.FindAllStringSubmatch(text, -1) {
		if _, ok := params[m[1]]; !ok {
			return fmt.Errorf("parameter $%s is not bound", m[1])
		}
	}
	for _, rel := range varLengthRelRe.FindAllString(text, -1) {
		m := varLengthBoundRe.FindStringSubmatch(rel)
		if m == nil {
			continue
		}
		// *N..M and *..M bound at M; a fixed-length *N bounds at N;
		// *N.. and a bare * are unbounded.
		boundStr := m[2]
		if boundStr == "" && !strings.Contains(rel, "..") {
			boundStr = m[1]
		}
		if boundStr == "" {
			return fmt.Errorf("variable-length pattern %s has no upper bound", rel)
		}
		bound, err := strconv.Atoi(boundStr)
		if err != nil || bound < 1 {
			return fmt.Errorf("invalid variable-length bound in %s", rel)
		}
		if bound > maxHops {
			return fmt.Errorf("variable-length bound %d exceeds the hop limit %d", bound, maxHops)
		}
	}
	return nil
}

// ValidateSQL checks generated SQL: a single read-only SELECT with a
// LIMIT, canonical output aliases, and placeholders $1..$n matching the
// prepared argument list exactly.
func ValidateSQL(text string, args []any) error {
	if text == "" {
		return fmt.Errorf("empty query text")
	}
	if strings.Contains(text, ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	if !sqlSelectPrefixRe.MatchString(text) {
		return fmt.Errorf("query must be a single SELECT statement")
	}
	if m := sqlForbiddenRe.FindString(text); m != "" {
		return fmt.Errorf("forbidden keyword %q, only read queries are allowed", strings.ToUpper(m))
	}
	if !sqlLimitClauseRe.MatchString(text) {
		return fmt.Errorf("missing LIMIT clause")
	}
	lower := strings.ToLower(text)
	for _, alias := range requiredAliases {
		if !strings.Contains(lower, alias) {
			return fmt.Errorf("missing required output alias %q", alias)
		}
	}
	used := make(map[int]bool)
	for _, m := range sqlPlaceholderRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid placeholder $%s", m[1])
		}
		if n > len(args) {
			return fmt.Errorf("placeholder $%d has no bound argument (only %d prepared)", n, len(args))
		}
		used[n] = true
	}
	for i := 1; i <= len(args); i++ {
		if !used[i] {
			return fmt.Errorf("prepared argument $%d is unused", i)
		}
	}
	return nil
}
