package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareOutputs(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		want     bool
	}{
		{"identical lists", "[1, 2, 3]", "[1, 2, 3]", true},
		{"whitespace insensitive", "[1,2,3]", "[ 1, 2, 3 ]", true},
		{"trailing newline", "[0, 1]", "[0, 1]\n", true},
		{"quote style insensitive", "['a', 'b']", `["a", "b"]`, true},
		{"int float equivalence", "[1, 2.0]", "[1.0, 2]", true},
		{"bool int equivalence", "True", "1", true},
		{"bool mismatch", "True", "0", false},
		{"tuple is not list", "(1, 2)", "[1, 2]", false},
		{"nested containers", "{'a': [1, (2, 3)]}", "{'a': [1, (2, 3)]}", true},
		{"dict key order irrelevant", "{'a': 1, 'b': 2}", "{'b': 2, 'a': 1}", true},
		{"dict value mismatch", "{'a': 1}", "{'a': 2}", false},
		{"set order irrelevant", "{3, 1, 2}", "{1, 2, 3}", true},
		{"wrong element", "[1, 2]", "[1, 3]", false},
		{"length mismatch", "[1, 2]", "[1, 2, 3]", false},
		{"none equals none", "None", "None", true},
		{"trailing comma tolerated", "[1, 2,]", "[1, 2]", true},
		{"negative and padded float", "[-1, 2.5]", "[-1, 2.50]", true},
		{"float precision differs", "0.1", "0.1000001", false},
		{"big ints stay exact", "9007199254740993", "9007199254740992", false},
		{"plain text falls back to string equality", "hello world", "hello world", true},
		{"plain text trimmed", "  hello ", "hello", true},
		{"plain text mismatch", "hello", "world", false},
		{"literal versus garbage", "[1, 2]", "oops", false},
		{"empty strings", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareOutputs(tt.expected, tt.actual))
		})
	}
}

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"list canonicalized", "[1,2,3]", "[1, 2, 3]"},
		{"already canonical", "[1, 2]", "[1, 2]"},
		{"surrounding whitespace dropped", "  [1, 2] ", "[1, 2]"},
		{"quoted string unquoted", "'hello'", "hello"},
		{"double quoted string unquoted", `"hi there"`, "hi there"},
		{"dict spacing", "{'a':1,'b':[1,2]}", "{'a': 1, 'b': [1, 2]}"},
		{"single element tuple", "('x',)", "('x',)"},
		{"tuple", "(1,2)", "(1, 2)"},
		{"bool", "True", "True"},
		{"none", "None", "None"},
		{"int", "42", "42"},
		{"float trailing zero", "2.50", "2.5"},
		{"whole float keeps decimal", "2.0", "2.0"},
		{"nested lists", "[[1,2],[3,4]]", "[[1, 2], [3, 4]]"},
		{"non literal passthrough", "not a literal", "not a literal"},
		{"empty passthrough", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeInput(tt.input))
		})
	}
}

func TestParseLiteral_Rejects(t *testing.T) {
	for _, s := range []string{
		"[1, 2",     // unterminated
		"'unclosed", // unterminated string
		"{1: }",     // missing value
		"[1 2]",     // missing comma
		"foo",       // bare identifier
		"[1], [2]",  // trailing content
		"{,}",       // empty element
	} {
		_, ok := parseLiteral(s)
		assert.False(t, ok, "expected %q to fail parsing", s)
	}
}

func TestParseLiteral_StringEscapes(t *testing.T) {
	v, ok := parseLiteral(`'a\nb\t\'c\''`)
	assert.True(t, ok)
	assert.Equal(t, "a\nb\t'c'", v)
}
