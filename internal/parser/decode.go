package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/roach88/adrecon/internal/profile"
)

// decodeField decodes an embedded object and returns the value at path as
// text. An empty path returns the whole value in compact JSON.
func decodeField(format profile.Format, raw, path string) (string, error) {
	src := raw
	switch format {
	case profile.FormatJSON:
	case profile.FormatPyDict:
		src = pyLiteralToJSON(raw)
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}

	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%s: %w", format, err)
	}
	if dec.More() {
		return "", fmt.Errorf("%s: trailing data", format)
	}

	if path != "" {
		for _, key := range strings.Split(path, ".") {
			obj, ok := v.(map[string]any)
			if !ok {
				return "", fmt.Errorf("path %q: %q is not inside an object", path, key)
			}
			v, ok = obj[key]
			if !ok {
				return "", fmt.Errorf("path %q: missing %q", path, key)
			}
		}
	}
	return stringify(v)
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// pyLiteralToJSON rewrites a Python dict literal (single-quoted strings,
// True/False/None) as JSON. Anything it does not recognise is copied as is
// and left for the JSON decoder to reject.
func pyLiteralToJSON(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\'' || r == '"':
			quote := r
			b.WriteByte('"')
			for i++; i < len(rs) && rs[i] != quote; i++ {
				c := rs[i]
				switch {
				case c == '\\' && i+1 < len(rs):
					i++
					if rs[i] == '\'' {
						b.WriteRune('\'')
					} else {
						b.WriteRune('\\')
						b.WriteRune(rs[i])
					}
				case c == '"':
					b.WriteString(`\"`)
				default:
					b.WriteRune(c)
				}
			}
			b.WriteByte('"')
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			switch word := string(rs[i:j]); word {
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			case "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
