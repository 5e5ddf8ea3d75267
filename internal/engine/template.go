package engine

import (
	"strings"

	"github.com/roach88/adrecon/internal/ir"
)

const rowPrefix = "row."

// Render expands placeholders in a status or notice template.
//
//	{name}        fact binding
//	{row.field}   field of the row being updated
//	{name|upper}  upper-cased value
//	{name|lower}  lower-cased value
//
// Unknown placeholders render empty. An unterminated "{" is copied as is.
func Render(tmpl string, bindings map[string]string, row *ir.Row) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:open])
		b.WriteString(placeholder(tmpl[open+1:open+end], bindings, row))
		tmpl = tmpl[open+end+1:]
	}
	return b.String()
}

func placeholder(expr string, bindings map[string]string, row *ir.Row) string {
	name, filter, _ := strings.Cut(expr, "|")
	name = strings.TrimSpace(name)

	var v string
	if field, ok := strings.CutPrefix(name, rowPrefix); ok {
		if row != nil {
			v, _ = row.Field(field)
		}
	} else {
		v = bindings[name]
	}

	switch strings.TrimSpace(filter) {
	case "upper":
		v = strings.ToUpper(v)
	case "lower":
		v = strings.ToLower(v)
	}
	return v
}
