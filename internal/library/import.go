package library

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrEmptyImport = errors.New("import payload is empty")

// rawImportItem tolerates the loose shapes import files arrive in. The ID
// is decoded as a float because older exports carry timestamp-plus-fraction
// identifiers.
type rawImportItem struct {
	ID        float64 `json:"id"`
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	ReadCount int     `json:"readCount"`
	Favorite  bool    `json:"favorite"`
	Archived  bool    `json:"archived"`
}

// fallbackDecoder rewrites a loosely formatted payload into strict JSON.
// It is a narrow seam: swapping in a different relaxed grammar touches
// nothing else in the import pipeline.
type fallbackDecoder func(src []byte) ([]byte, error)

// ParseImport decodes a user-supplied import payload into defaulted domain
// items. A strict JSON parse is attempted first, accepting either a bare
// item array or a {version, items} envelope. Import sources are often
// hand-edited, so on failure the payload is run through a relaxed-JSON
// rewrite (unquoted keys, single-quoted strings, trailing commas) and
// parsed again. The relaxed pass never evaluates the input; it only
// rewrites it into JSON and hands it back to the strict decoder.
func ParseImport(text string) ([]Item, error) {
	return parseImportWith(text, relaxJSON)
}

func parseImportWith(text string, fallback fallbackDecoder) ([]Item, error) {
	data := bytes.TrimSpace([]byte(text))
	if len(data) == 0 {
		return nil, ErrEmptyImport
	}
	raw, err := decodeImportItems(data)
	if err != nil && fallback != nil {
		relaxed, relErr := fallback(data)
		if relErr == nil {
			raw, relErr = decodeImportItems(relaxed)
		}
		if relErr != nil {
			return nil, fmt.Errorf("parse import: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("parse import: %w", err)
	}

	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		item := Item{
			ID:        int64(r.ID),
			Title:     r.Title,
			Type:      r.Type,
			Content:   r.Content,
			ReadCount: r.ReadCount,
			Favorite:  r.Favorite,
			Archived:  r.Archived,
		}
		if item.ID == 0 {
			item.ID = NewTemporaryID()
		}
		if item.Type == "" {
			item.Type = TypePoem
		}
		items = append(items, item)
	}
	return items, nil
}

// decodeImportItems accepts a bare array or a snapshot-style envelope. The
// envelope form is unwrapped first; its version is not gated here since
// import explicitly replaces whatever is cached.
func decodeImportItems(data []byte) ([]rawImportItem, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrEmptyImport
	}
	if trimmed[0] == '{' {
		var envelope struct {
			Version int             `json:"version"`
			Items   []rawImportItem `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		if envelope.Items == nil {
			return nil, errors.New("import envelope has no items")
		}
		return envelope.Items, nil
	}
	var items []rawImportItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// relaxJSON rewrites common object-literal looseness into strict JSON:
// identifier keys get quoted, single-quoted strings become double-quoted,
// trailing commas are dropped. Anything outside that grammar is rejected.
// The output still has to survive encoding/json, so this cannot smuggle in
// arbitrary syntax.
func relaxJSON(src []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(src) + 16)
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"':
			next, err := copyQuoted(&out, src, i)
			if err != nil {
				return nil, err
			}
			i = next
		case c == '\'':
			next, err := rewriteSingleQuoted(&out, src, i)
			if err != nil {
				return nil, err
			}
			i = next
		case c == ',':
			j := i + 1
			for j < len(src) && isJSONSpace(src[j]) {
				j++
			}
			if j < len(src) && (src[j] == '}' || src[j] == ']') {
				i++ // trailing comma
				continue
			}
			out.WriteByte(c)
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			k := j
			for k < len(src) && isJSONSpace(src[k]) {
				k++
			}
			if k < len(src) && src[k] == ':' {
				out.WriteByte('"')
				out.Write(word)
				out.WriteByte('"')
			} else {
				switch string(word) {
				case "true", "false", "null":
					out.Write(word)
				default:
					return nil, fmt.Errorf("unexpected token %q", word)
				}
			}
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.Bytes(), nil
}

func copyQuoted(out *bytes.Buffer, src []byte, start int) (int, error) {
	out.WriteByte('"')
	i := start + 1
	for i < len(src) {
		c := src[i]
		if c == '\\' && i+1 < len(src) {
			out.WriteByte(c)
			out.WriteByte(src[i+1])
			i += 2
			continue
		}
		out.WriteByte(c)
		i++
		if c == '"' {
			return i, nil
		}
	}
	return 0, errors.New("unterminated string")
}

func rewriteSingleQuoted(out *bytes.Buffer, src []byte, start int) (int, error) {
	out.WriteByte('"')
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src) && src[i+1] == '\'':
			out.WriteByte('\'')
			i += 2
		case c == '\\' && i+1 < len(src):
			out.WriteByte(c)
			out.WriteByte(src[i+1])
			i += 2
		case c == '"':
			out.WriteString(`\"`)
			i++
		case c == '\'':
			out.WriteByte('"')
			return i + 1, nil
		default:
			out.WriteByte(c)
			i++
		}
	}
	return 0, errors.New("unterminated string")
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
