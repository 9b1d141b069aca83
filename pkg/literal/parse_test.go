package literal

import (
	"errors"
	"math/big"
	"reflect"
	"strings"
	"testing"
)

func TestParseScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"true", "True", true},
		{"false", "False", false},
		{"none", "None", nil},
		{"int", "42", int64(42)},
		{"negative int", "-7", int64(-7)},
		{"explicit plus", "+3", int64(3)},
		{"zero", "0", int64(0)},
		{"zeros", "000", int64(0)},
		{"underscores", "1_000_000", int64(1000000)},
		{"hex", "0xff", int64(255)},
		{"octal", "0o17", int64(15)},
		{"binary", "0b101", int64(5)},
		{"negative hex", "-0x10", int64(-16)},
		{"float", "1.5", 1.5},
		{"float leading dot", ".25", 0.25},
		{"float trailing dot", "2.", 2.0},
		{"exponent", "1e3", 1000.0},
		{"negative exponent", "-2.5e-1", -0.25},
		{"single quoted", "'abc'", "abc"},
		{"double quoted", `"abc"`, "abc"},
		{"unicode prefix", "u'x'", "x"},
		{"surrounding space", "  'x'  ", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseBigInt(t *testing.T) {
	got, err := Parse("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, ok := got.(*big.Int)
	if !ok {
		t.Fatalf("expected *big.Int, got %T", got)
	}
	if n.String() != "123456789012345678901234567890" {
		t.Errorf("unexpected value %s", n)
	}
}

func TestParseStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"escapes", `'a\nb\tc\\d'`, "a\nb\tc\\d"},
		{"escaped quote", `'it\'s'`, "it's"},
		{"other quote inside", `"it's"`, "it's"},
		{"hex escape", `'\x41'`, "A"},
		{"octal escape", `'\101'`, "A"},
		{"unicode escape", `'\u00e9'`, "é"},
		{"long unicode escape", `'\U0001F600'`, "😀"},
		{"unknown escape kept", `'\d'`, `\d`},
		{"raw string", `r'\n'`, `\n`},
		{"raw escaped quote", `r'\''`, `\'`},
		{"utf8 passthrough", "'héllo'", "héllo"},
		{"concatenation", `'ab' "cd"`, "abcd"},
		{"concatenation with prefix", `'ab' r'\d'`, `ab\d`},
		{"triple quoted", "'''a\nb'''", "a\nb"},
		{"bytes", `b'ab\x00'`, []byte("ab\x00")},
		{"raw bytes", `rb'\x00'`, []byte(`\x00`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseContainers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected any
	}{
		{"empty dict", "{}", map[string]any{}},
		{"empty list", "[]", []any{}},
		{"empty tuple", "()", Tuple{}},
		{"grouped value", "(1)", int64(1)},
		{"single tuple", "(1,)", Tuple{int64(1)}},
		{"tuple", "(1, 'a')", Tuple{int64(1), "a"}},
		{"list trailing comma", "[1, 2,]", []any{int64(1), int64(2)}},
		{"set", "{1, 2}", Set{int64(1), int64(2)}},
		{"set of tuples", "{(1, 2)}", Set{Tuple{int64(1), int64(2)}}},
		{"set duplicates dropped", "{1, 2, 1}", Set{int64(1), int64(2)}},
		{"set equal numbers", "{1, 1.0, True, 'a', 'a'}", Set{int64(1), "a"}},
		{"set distinct types", "{'1', b'1', 1}", Set{"1", []byte("1"), int64(1)}},
		{"set duplicate tuples", "{(1, 'x'), (1, 'x')}", Set{Tuple{int64(1), "x"}}},
		{
			"nested mapping",
			"{'enable': {'enabled': True}}",
			map[string]any{"enable": map[string]any{"enabled": true}},
		},
		{
			"mixed mapping",
			"{'a': [1, 2.5, None], 'b': ('x',), 'c': {'d': False},}",
			map[string]any{
				"a": []any{int64(1), 2.5, nil},
				"b": Tuple{"x"},
				"c": map[string]any{"d": false},
			},
		},
		{
			"multiline",
			"{\n  'enable': {\n    'enabled': False,\n  },\n}",
			map[string]any{"enable": map[string]any{"enabled": false}},
		},
		{"duplicate keys last wins", "{'a': 1, 'a': 2}", map[string]any{"a": int64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseRejectsNonLiterals(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"bare words", "not a literal"},
		{"name", "enabled"},
		{"function call", "print('x')"},
		{"import", "__import__('os').system('true')"},
		{"import statement", "import os"},
		{"attribute access", "os.path"},
		{"call inside mapping", "{'enable': open('/etc/passwd')}"},
		{"lambda", "lambda: 1"},
		{"arithmetic", "1 + 2"},
		{"double negation", "--1"},
		{"negated name", "-True"},
		{"complex number", "1j"},
		{"leading zero", "012"},
		{"double underscore", "1__0"},
		{"trailing underscore", "1_"},
		{"bad hex", "0xg"},
		{"bad binary", "0b102"},
		{"missing exponent", "1e"},
		{"lone dot", "."},
		{"unterminated string", "'abc"},
		{"newline in string", "'a\nb'"},
		{"unterminated dict", "{'a': 1"},
		{"missing colon", "{'a' 1}"},
		{"non-string key", "{1: 'a'}"},
		{"tuple key", "{('a',): 1}"},
		{"missing comma", "[1 2]"},
		{"leading comma", "[,]"},
		{"trailing data", "{} {}"},
		{"unhashable in set", "{[1]}"},
		{"mixed bytes", "b'a' 'b'"},
		{"f-string", "f'{x}'"},
		{"truncated hex escape", `'\x4'`},
		{"named escape", `'\N{DASH}'`},
		{"non-ascii bytes", "b'é'"},
		{"comprehension", "[x for x in y]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("Parse(%q) = %#v, expected error", tt.input, got)
			}
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("expected ErrSyntax, got %v", err)
			}
			var syntaxErr *SyntaxError
			if !errors.As(err, &syntaxErr) {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
			if syntaxErr.Offset < 0 || syntaxErr.Offset > len(tt.input) {
				t.Errorf("offset %d out of range for %q", syntaxErr.Offset, tt.input)
			}
		})
	}
}

func TestParseNestingLimit(t *testing.T) {
	deep := strings.Repeat("[", maxDepth+1) + strings.Repeat("]", maxDepth+1)
	if _, err := Parse(deep); err == nil {
		t.Fatal("expected error for excessive nesting")
	}

	ok := strings.Repeat("[", maxDepth) + strings.Repeat("]", maxDepth)
	if _, err := Parse(ok); err != nil {
		t.Fatalf("unexpected error at nesting limit: %v", err)
	}
}

func TestSyntaxErrorMessage(t *testing.T) {
	_, err := Parse("{'a': nope}")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "offset 6") {
		t.Errorf("expected offset in message, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), `"nope"`) {
		t.Errorf("expected offending name in message, got %q", err.Error())
	}
}
