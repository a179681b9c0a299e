// Package sse aggregates per-device gui-summary wakers into a tree keyed by
// topic path and hands out coalescing per-path subscriptions for the
// event-stream surface.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Token is one topic path segment: a non-negative int or a short string.
type Token any

// Path is an ordered finite sequence of tokens naming a subtree.
type Path []Token

// P builds a Path, rejecting unsupported token types early.
func P(tokens ...Token) Path {
	for _, tok := range tokens {
		switch v := tok.(type) {
		case int:
			if v < 0 {
				panic("sse: negative numeric token")
			}
		case string:
		default:
			panic(fmt.Sprintf("sse: unsupported token type %T", tok))
		}
	}
	return Path(tokens)
}

// canonical renders the path's canonical JSON form, which doubles as the
// identity key and the SSE event body.
func canonical(p Path) []byte {
	if p == nil {
		p = Path{}
	}
	data, err := json.Marshal([]Token(p))
	if err != nil {
		panic(fmt.Sprintf("sse: unencodable path: %v", err))
	}
	return data
}

// ParseURLFilter parses the `filter=` query form: comma-separated paths of
// hyphen-joined segments; segments of only digits are numbers.
func ParseURLFilter(value string) ([]Path, error) {
	if value == "" {
		return nil, errors.New("empty filter")
	}
	parts := strings.Split(value, ",")
	paths := make([]Path, 0, len(parts))
	for _, part := range parts {
		segments := strings.Split(part, "-")
		path := make(Path, 0, len(segments))
		for _, seg := range segments {
			if seg == "" {
				return nil, errors.New("empty path segment")
			}
			if isDigits(seg) {
				n, err := strconv.Atoi(seg)
				if err != nil {
					return nil, fmt.Errorf("numeric segment %q: %w", seg, err)
				}
				path = append(path, n)
			} else {
				path = append(path, seg)
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// ParseBodyFilter parses the POST body form: a JSON array of arrays of
// numbers or strings.
func ParseBodyFilter(r io.Reader) ([]Path, error) {
	var raw [][]any
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode filter body: %w", err)
	}
	paths := make([]Path, 0, len(raw))
	for _, rawPath := range raw {
		path := make(Path, 0, len(rawPath))
		for _, seg := range rawPath {
			switch v := seg.(type) {
			case float64:
				if v < 0 || v != math.Trunc(v) {
					return nil, fmt.Errorf("invalid numeric segment %v", v)
				}
				path = append(path, int(v))
			case string:
				path = append(path, v)
			default:
				return nil, fmt.Errorf("invalid segment type %T", seg)
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}
