package judge

import (
	"strconv"
	"strings"
)

// Expected outputs in the question catalog are Python literals ("[1, 2]",
// "('a', 1)", "{'k': True}"). Outputs are compared by parsing both sides and
// checking structural equality, so "[1,2]" and "[1, 2]" both pass. When either
// side is not a literal, comparison falls back to trimmed string equality.
//
// Parsed values use: int64, float64, string, bool, nil, []any (list),
// pyTuple, pySet and *pyDict.

type pyTuple []any

type pySet []any

// pyDict keeps insertion order so rendering matches Python's str().
type pyDict struct {
	keys   []any
	values []any
}

// CompareOutputs reports whether a program's output matches the expected
// output for one test case.
func CompareOutputs(expected, actual string) bool {
	e := strings.TrimSpace(expected)
	a := strings.TrimSpace(actual)

	ev, eok := parseLiteral(e)
	av, aok := parseLiteral(a)
	if eok && aok {
		return equalLiterals(ev, av)
	}
	return e == a
}

// NormalizeInput renders a test case's input the way the execution harness
// expects it on stdin: parsed and re-rendered canonically, or passed through
// untouched when it is not a literal.
func NormalizeInput(input string) string {
	v, ok := parseLiteral(strings.TrimSpace(input))
	if !ok {
		return input
	}
	// str() of a plain string is the string itself, unquoted.
	if s, isStr := v.(string); isStr {
		return s
	}
	return reprLiteral(v)
}

func parseLiteral(s string) (any, bool) {
	p := &literalParser{s: s}
	p.skipSpace()
	v, ok := p.value()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, false
	}
	return v, true
}

type literalParser struct {
	s   string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) value() (any, bool) {
	if p.pos >= len(p.s) {
		return nil, false
	}
	switch c := p.s[p.pos]; {
	case c == '\'' || c == '"':
		return p.str()
	case c == '[':
		return p.seq(']', func(items []any) any { return items })
	case c == '(':
		return p.seq(')', func(items []any) any { return pyTuple(items) })
	case c == '{':
		return p.dictOrSet()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	default:
		return p.word()
	}
}

func (p *literalParser) str() (any, bool) {
	quote := p.s[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '\\' {
			p.pos++
			if p.pos >= len(p.s) {
				return nil, false
			}
			switch e := p.s[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				// Unknown escapes pass through verbatim.
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			p.pos++
			continue
		}
		if c == quote {
			p.pos++
			return b.String(), true
		}
		b.WriteByte(c)
		p.pos++
	}
	return nil, false // unterminated
}

func (p *literalParser) number() (any, bool) {
	start := p.pos
	if p.s[p.pos] == '+' || p.s[p.pos] == '-' {
		p.pos++
	}
	consumed := false
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == '_' {
			p.pos++
			consumed = true
			continue
		}
		if (c == 'e' || c == 'E') && consumed {
			p.pos++
			if p.pos < len(p.s) && (p.s[p.pos] == '+' || p.s[p.pos] == '-') {
				p.pos++
			}
			continue
		}
		break
	}
	if !consumed {
		return nil, false
	}

	txt := strings.ReplaceAll(p.s[start:p.pos], "_", "")
	if i, err := strconv.ParseInt(txt, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(txt, 64); err == nil {
		return f, true
	}
	return nil, false
}

func (p *literalParser) word() (any, bool) {
	start := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	switch p.s[start:p.pos] {
	case "True":
		return true, true
	case "False":
		return false, true
	case "None":
		return nil, true
	}
	return nil, false
}

func (p *literalParser) seq(close byte, wrap func([]any) any) (any, bool) {
	p.pos++ // opening bracket
	items := []any{}
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == close {
		p.pos++
		return wrap(items), true
	}
	for {
		p.skipSpace()
		v, ok := p.value()
		if !ok {
			return nil, false
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, false
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == close { // trailing comma
				p.pos++
				return wrap(items), true
			}
		case close:
			p.pos++
			return wrap(items), true
		default:
			return nil, false
		}
	}
}

func (p *literalParser) dictOrSet() (any, bool) {
	p.pos++
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == '}' { // {} is an empty dict
		p.pos++
		return &pyDict{}, true
	}

	first, ok := p.value()
	if !ok {
		return nil, false
	}
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == ':' {
		return p.dictRest(first)
	}
	return p.setRest(first)
}

func (p *literalParser) dictRest(firstKey any) (any, bool) {
	d := &pyDict{}
	p.pos++ // ':'
	p.skipSpace()
	v, ok := p.value()
	if !ok {
		return nil, false
	}
	d.keys = append(d.keys, firstKey)
	d.values = append(d.values, v)

	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, false
		}
		switch p.s[p.pos] {
		case '}':
			p.pos++
			return d, true
		case ',':
			p.pos++
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == '}' {
				p.pos++
				return d, true
			}
			k, ok := p.value()
			if !ok {
				return nil, false
			}
			p.skipSpace()
			if p.pos >= len(p.s) || p.s[p.pos] != ':' {
				return nil, false
			}
			p.pos++
			p.skipSpace()
			vv, ok := p.value()
			if !ok {
				return nil, false
			}
			d.keys = append(d.keys, k)
			d.values = append(d.values, vv)
		default:
			return nil, false
		}
	}
}

func (p *literalParser) setRest(first any) (any, bool) {
	items := []any{first}
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, false
		}
		switch p.s[p.pos] {
		case '}':
			p.pos++
			return pySet(items), true
		case ',':
			p.pos++
			p.skipSpace()
			if p.pos < len(p.s) && p.s[p.pos] == '}' {
				p.pos++
				return pySet(items), true
			}
			v, ok := p.value()
			if !ok {
				return nil, false
			}
			items = append(items, v)
		default:
			return nil, false
		}
	}
}

func equalLiterals(a, b any) bool {
	// Exact integer comparison before any float promotion.
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return ai == bi
		}
	}
	// Numeric promotion: 1 == 1.0 and True == 1, as in Python.
	if na, aok := numeric(a); aok {
		nb, bok := numeric(b)
		return bok && na == nb
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		return ok && equalSeq(av, bv)
	case pyTuple:
		bv, ok := b.(pyTuple)
		return ok && equalSeq(av, bv)
	case pySet:
		bv, ok := b.(pySet)
		return ok && equalMultiset(av, bv)
	case *pyDict:
		bv, ok := b.(*pyDict)
		return ok && equalDict(av, bv)
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func equalSeq(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalLiterals(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equalMultiset(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, av := range a {
		found := false
		for j, bv := range b {
			if !used[j] && equalLiterals(av, bv) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func equalDict(a, b *pyDict) bool {
	if len(a.keys) != len(b.keys) {
		return false
	}
	for i, ak := range a.keys {
		found := false
		for j, bk := range b.keys {
			if equalLiterals(ak, bk) {
				if !equalLiterals(a.values[i], b.values[j]) {
					return false
				}
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// reprLiteral renders v like Python's repr().
func reprLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case string:
		escaped := strings.ReplaceAll(t, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, "'", `\'`)
		return "'" + escaped + "'"
	case []any:
		return "[" + joinRepr(t) + "]"
	case pyTuple:
		if len(t) == 1 {
			return "(" + reprLiteral(t[0]) + ",)"
		}
		return "(" + joinRepr(t) + ")"
	case pySet:
		if len(t) == 0 {
			return "set()"
		}
		return "{" + joinRepr(t) + "}"
	case *pyDict:
		var b strings.Builder
		b.WriteByte('{')
		for i := range t.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(reprLiteral(t.keys[i]))
			b.WriteString(": ")
			b.WriteString(reprLiteral(t.values[i]))
		}
		b.WriteByte('}')
		return b.String()
	}
	return ""
}

func joinRepr(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = reprLiteral(it)
	}
	return strings.Join(parts, ", ")
}
