// Package credentials extracts replayable request headers from a cURL
// command pasted out of the browser's network inspector. The portals have
// no token API, so the captured headers (cookies included) are the only
// way to authenticate upstream calls.
package credentials

import (
	"context"
	"fmt"
	"strings"
)

// Supplier resolves the header set for an account at run start.
type Supplier interface {
	Headers(ctx context.Context, accountID string) (map[string]string, error)
}

// ParseCurlHeaders extracts header key/value pairs from a cURL command.
// It honors -H/--header flags and folds -b/--cookie into a Cookie header.
// Line continuations (backslash-newline) and both quote styles are
// accepted, since browsers differ in how they format the copied command.
func ParseCurlHeaders(curl string) (map[string]string, error) {
	tokens := tokenize(curl)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty curl command")
	}

	headers := make(map[string]string)
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "-H", "--header":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("dangling %s flag", tokens[i])
			}
			i++
			key, value, ok := splitHeader(tokens[i])
			if !ok {
				return nil, fmt.Errorf("malformed header %q", tokens[i])
			}
			headers[key] = value
		case "-b", "--cookie":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("dangling %s flag", tokens[i])
			}
			i++
			headers["Cookie"] = tokens[i]
		}
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("no headers found in curl command")
	}
	return headers, nil
}

func splitHeader(raw string) (key, value string, ok bool) {
	idx := strings.Index(raw, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(raw[:idx])
	value = strings.TrimSpace(raw[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// tokenize splits a shell-style command into words, honoring single and
// double quotes and backslash escapes outside single quotes. It is not a
// full shell parser; it covers the forms browsers actually emit.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inToken := false
	var quote rune

	flush := func() {
		if inToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inToken = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else if r == '\\' && quote == '"' && i+1 < len(runes) {
				i++
				cur.WriteRune(runes[i])
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == '\\':
			if i+1 < len(runes) {
				i++
				if runes[i] != '\n' {
					cur.WriteRune(runes[i])
					inToken = true
				}
			}
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	flush()
	return tokens
}
