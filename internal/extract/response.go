package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParseStats counts what happened while unpacking a structured response.
type ParseStats struct {
	Chunks      int
	ParseErrors int
	Unexpected  int
}

var errNoJSON = errors.New("no json payload in response")

// ParseItems unpacks a structured-extraction response into raw items. It
// accepts a direct list of items, an object with an "items" list, or the
// chunked form [{"index": n, "content": [item-or-json-string, ...]}, ...].
// Markdown code fences around the payload are ignored. A chunk entry that
// fails to decode is counted and skipped.
func ParseItems(raw []byte) ([]map[string]any, ParseStats, error) {
	var stats ParseStats
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, stats, err
	}

	var items []map[string]any
	switch v := payload.(type) {
	case []any:
		for _, entry := range v {
			obj, ok := entry.(map[string]any)
			if !ok {
				stats.Unexpected++
				continue
			}
			if content, isChunk := obj["content"].([]any); isChunk {
				stats.Chunks++
				items = append(items, unpackChunk(content, &stats)...)
				continue
			}
			if _, hasDay := obj["day"]; hasDay {
				_, hasMonth := obj["month"]
				_, hasMonthName := obj["month_name"]
				if hasMonth || hasMonthName {
					items = append(items, obj)
					continue
				}
			}
			stats.Unexpected++
		}
	case map[string]any:
		list, _ := v["items"].([]any)
		for _, entry := range list {
			if obj, ok := entry.(map[string]any); ok {
				items = append(items, obj)
			} else {
				stats.Unexpected++
			}
		}
	default:
		return nil, stats, fmt.Errorf("unexpected response type %T", payload)
	}
	return items, stats, nil
}

func unpackChunk(content []any, stats *ParseStats) []map[string]any {
	var out []map[string]any
	for _, entry := range content {
		switch c := entry.(type) {
		case map[string]any:
			out = append(out, c)
		case string:
			var decoded any
			if err := decodeJSON([]byte(FixUnicodeEscapes(c)), &decoded); err != nil {
				stats.ParseErrors++
				continue
			}
			switch d := decoded.(type) {
			case map[string]any:
				out = append(out, d)
			case []any:
				for _, nested := range d {
					if obj, ok := nested.(map[string]any); ok {
						out = append(out, obj)
					} else {
						stats.Unexpected++
					}
				}
			default:
				stats.Unexpected++
			}
		default:
			stats.Unexpected++
		}
	}
	return out
}

func decodePayload(raw []byte) (any, error) {
	text := strings.TrimSpace(stripCodeFence(string(raw)))
	if text == "" {
		return nil, errNoJSON
	}
	var payload any
	if err := decodeJSON([]byte(text), &payload); err == nil {
		return payload, nil
	}
	// Escapes inside chunk strings are fixed per chunk, so the raw text is
	// only rewritten once it failed to decode as is.
	text = FixUnicodeEscapes(text)
	if err := decodeJSON([]byte(text), &payload); err == nil {
		return payload, nil
	}
	// Free text around a JSON array: keep the outermost brackets.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	if err := decodeJSON([]byte(text[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// stripCodeFence returns the body of the first ``` block, if any.
func stripCodeFence(s string) string {
	parts := strings.Split(s, "```")
	if len(parts) < 3 {
		return s
	}
	block := parts[1]
	if strings.HasPrefix(block, "json") {
		block = strings.TrimLeft(block[len("json"):], " \t\r\n")
	}
	return block
}

var es6Escape = regexp.MustCompile(`\\u\{([0-9A-Fa-f]+)\}`)

// FixUnicodeEscapes rewrites ES6-style \u{1F4DD} escapes, which are not valid
// JSON, into the characters they denote.
func FixUnicodeEscapes(s string) string {
	return es6Escape.ReplaceAllStringFunc(s, func(m string) string {
		hex := es6Escape.FindStringSubmatch(m)[1]
		cp, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || cp > 0x10FFFF {
			return m
		}
		r := rune(cp)
		if r < 0x20 || r == '"' || r == '\\' {
			return fmt.Sprintf(`\u%04x`, r)
		}
		return string(r)
	})
}
