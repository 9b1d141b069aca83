// Package literal decodes and encodes literal data values as emitted by
// monitoring agents: mappings, lists, tuples, sets, strings, bytes, numbers,
// booleans and None.
//
// The decoder only understands literal syntax. Names other than True, False
// and None, calls, attribute access, operators and every other expression
// form are rejected; nothing in the input is ever evaluated.
package literal

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxDepth bounds container nesting so hostile input cannot exhaust the stack.
const maxDepth = 100

// ErrSyntax is matched by every error returned from Parse.
var ErrSyntax = errors.New("invalid literal")

// SyntaxError describes why and where the input stopped being a literal.
type SyntaxError struct {
	// Offset is the byte offset in the input at which decoding failed.
	Offset int

	// Msg is a human-readable description of the problem.
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid literal at offset %d: %s", e.Offset, e.Msg)
}

// Is reports whether target is ErrSyntax.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// Tuple is a decoded tuple literal, e.g. (1, 'a').
type Tuple []any

// Set is a decoded non-empty set literal, e.g. {1, 2}. Elements keep the
// order in which they were first written; repeated elements are dropped,
// with 1, 1.0 and True counting as the same element.
type Set []any

// Parse decodes text as a single literal value.
//
// Decoded values use these Go types: string, []byte, int64 (or *big.Int when
// the value does not fit), float64, bool, nil, []any, Tuple, Set and
// map[string]any. Mapping keys must be strings.
func Parse(text string) (any, error) {
	p := &parser{src: text}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q after value", p.peekRune())
	}
	return v, nil
}

type parser struct {
	src   string
	pos   int
	depth int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peekRune() rune {
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) value() (any, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}

	c := p.src[p.pos]
	switch {
	case c == '{':
		return p.braced()
	case c == '[':
		return p.list()
	case c == '(':
		return p.parenthesized()
	case c == '\'' || c == '"':
		return p.strings("")
	case c == '+' || c == '-' || c == '.' || isDigit(c):
		return p.number()
	case isIdentStart(c):
		return p.name()
	}
	return nil, p.errorf("unexpected character %q", p.peekRune())
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf("nesting deeper than %d levels", maxDepth)
	}
	return nil
}

func (p *parser) leave() {
	p.depth--
}

// elements parses comma separated values up to the closing byte. A trailing
// comma is accepted. It reports whether at least one comma was seen.
func (p *parser) elements(closing byte, first []any) ([]any, bool, error) {
	items := first
	sawComma := false
	for {
		p.skipSpace()
		if p.eof() {
			return nil, false, p.errorf("missing %q", closing)
		}
		if p.src[p.pos] == closing {
			p.pos++
			return items, sawComma, nil
		}
		if len(items) > 0 {
			if p.src[p.pos] != ',' {
				return nil, false, p.errorf("expected ',' or %q, got %q", closing, p.peekRune())
			}
			p.pos++
			sawComma = true
			p.skipSpace()
			if !p.eof() && p.src[p.pos] == closing {
				p.pos++
				return items, sawComma, nil
			}
		}
		v, err := p.value()
		if err != nil {
			return nil, false, err
		}
		items = append(items, v)
	}
}

func (p *parser) list() (any, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.pos++ // [
	items, _, err := p.elements(']', nil)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []any{}
	}
	return items, nil
}

func (p *parser) parenthesized() (any, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.pos++ // (
	p.skipSpace()
	if !p.eof() && p.src[p.pos] == ')' {
		p.pos++
		return Tuple{}, nil
	}

	first, err := p.value()
	if err != nil {
		return nil, err
	}
	items, sawComma, err := p.elements(')', []any{first})
	if err != nil {
		return nil, err
	}
	// (x) is a grouped value, not a tuple.
	if !sawComma {
		return first, nil
	}
	return Tuple(items), nil
}

func (p *parser) braced() (any, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	p.pos++ // {
	p.skipSpace()
	if !p.eof() && p.src[p.pos] == '}' {
		p.pos++
		return map[string]any{}, nil
	}

	keyPos := p.pos
	first, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() && p.src[p.pos] == ':' {
		return p.mapping(first, keyPos)
	}

	items, _, err := p.elements('}', []any{first})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(items))
	set := make(Set, 0, len(items))
	for _, item := range items {
		if !hashable(item) {
			return nil, &SyntaxError{Offset: keyPos, Msg: fmt.Sprintf("unhashable %s in set", typeName(item))}
		}
		key := setKey(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		set = append(set, item)
	}
	return set, nil
}

// mapping continues a dict literal whose first key has already been read.
func (p *parser) mapping(firstKey any, keyPos int) (any, error) {
	out := make(map[string]any)
	key := firstKey
	for {
		k, ok := key.(string)
		if !ok {
			return nil, &SyntaxError{Offset: keyPos, Msg: fmt.Sprintf("mapping key must be a string, got %s", typeName(key))}
		}

		p.skipSpace()
		if p.eof() || p.src[p.pos] != ':' {
			return nil, p.errorf("expected ':' after mapping key")
		}
		p.pos++
		p.skipSpace()

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		// Later duplicates win, as with the producer's own dict semantics.
		out[k] = v

		p.skipSpace()
		if p.eof() {
			return nil, p.errorf("missing '}'")
		}
		switch p.src[p.pos] {
		case '}':
			p.pos++
			return out, nil
		case ',':
			p.pos++
		default:
			return nil, p.errorf("expected ',' or '}', got %q", p.peekRune())
		}

		p.skipSpace()
		if !p.eof() && p.src[p.pos] == '}' {
			p.pos++
			return out, nil
		}
		keyPos = p.pos
		key, err = p.value()
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) name() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	ident := p.src[start:p.pos]

	if !p.eof() && (p.src[p.pos] == '\'' || p.src[p.pos] == '"') {
		if isStringPrefix(ident) {
			return p.strings(ident)
		}
		p.pos = start
		return nil, p.errorf("unsupported string prefix %q", ident)
	}

	switch ident {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	}
	p.pos = start
	return nil, p.errorf("name %q is not a literal", ident)
}

func isStringPrefix(ident string) bool {
	switch strings.ToLower(ident) {
	case "r", "u", "b", "br", "rb":
		return true
	}
	return false
}

// strings reads one string literal and any adjacent ones, concatenating them.
func (p *parser) strings(prefix string) (any, error) {
	var sb strings.Builder
	first := true
	isBytes := false

	for {
		start := p.pos
		bytesLit, err := p.stringLiteral(prefix, &sb)
		if err != nil {
			return nil, err
		}
		if first {
			isBytes = bytesLit
			first = false
		} else if bytesLit != isBytes {
			p.pos = start
			return nil, p.errorf("cannot mix bytes and non-bytes literals")
		}

		save := p.pos
		p.skipSpace()
		if p.eof() {
			p.pos = save
			break
		}
		if c := p.src[p.pos]; c == '\'' || c == '"' {
			prefix = ""
			continue
		}
		identStart := p.pos
		for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
			p.pos++
		}
		ident := p.src[identStart:p.pos]
		if ident != "" && !p.eof() && (p.src[p.pos] == '\'' || p.src[p.pos] == '"') && isStringPrefix(ident) {
			prefix = ident
			continue
		}
		p.pos = save
		break
	}

	if isBytes {
		return []byte(sb.String()), nil
	}
	return sb.String(), nil
}

// stringLiteral appends the decoded contents of the literal at p.pos to sb.
func (p *parser) stringLiteral(prefix string, sb *strings.Builder) (bool, error) {
	lower := strings.ToLower(prefix)
	raw := strings.Contains(lower, "r")
	isBytes := strings.Contains(lower, "b")

	quote := p.src[p.pos]
	triple := strings.HasPrefix(p.src[p.pos:], strings.Repeat(string(quote), 3))
	if triple {
		p.pos += 3
	} else {
		p.pos++
	}

	for {
		if p.eof() {
			return false, p.errorf("unterminated string")
		}
		c := p.src[p.pos]

		if c == quote {
			if !triple {
				p.pos++
				return isBytes, nil
			}
			if strings.HasPrefix(p.src[p.pos:], strings.Repeat(string(quote), 3)) {
				p.pos += 3
				return isBytes, nil
			}
		}
		if (c == '\n' || c == '\r') && !triple {
			return false, p.errorf("unterminated string")
		}

		if c == '\\' {
			if p.pos+1 >= len(p.src) {
				return false, p.errorf("unterminated string")
			}
			if raw {
				// Raw strings keep the backslash but it still protects the quote.
				sb.WriteByte('\\')
				p.pos++
				if err := p.copyChar(sb, isBytes); err != nil {
					return false, err
				}
				continue
			}
			if err := p.escape(sb, isBytes); err != nil {
				return false, err
			}
			continue
		}

		if err := p.copyChar(sb, isBytes); err != nil {
			return false, err
		}
	}
}

func (p *parser) copyChar(sb *strings.Builder, isBytes bool) error {
	r, size := utf8.DecodeRuneInString(p.src[p.pos:])
	if r == utf8.RuneError && size == 1 {
		return p.errorf("invalid UTF-8 in string")
	}
	if isBytes && r >= 0x80 {
		return p.errorf("bytes can only contain ASCII literal characters")
	}
	sb.WriteString(p.src[p.pos : p.pos+size])
	p.pos += size
	return nil
}

var simpleEscapes = map[byte]byte{
	'\\': '\\', '\'': '\'', '"': '"',
	'a': '\a', 'b': '\b', 'f': '\f', 'n': '\n', 'r': '\r', 't': '\t', 'v': '\v',
}

// escape decodes the backslash sequence at p.pos.
func (p *parser) escape(sb *strings.Builder, isBytes bool) error {
	start := p.pos
	p.pos++ // backslash
	c := p.src[p.pos]
	p.pos++

	if b, ok := simpleEscapes[c]; ok {
		sb.WriteByte(b)
		return nil
	}

	switch {
	case c == '\n':
		// Line continuation.
		return nil
	case c == '\r':
		if !p.eof() && p.src[p.pos] == '\n' {
			p.pos++
		}
		return nil
	case c >= '0' && c <= '7':
		n := int(c - '0')
		for i := 0; i < 2 && !p.eof() && p.src[p.pos] >= '0' && p.src[p.pos] <= '7'; i++ {
			n = n*8 + int(p.src[p.pos]-'0')
			p.pos++
		}
		writeCode(sb, n, isBytes)
		return nil
	case c == 'x':
		n, err := p.hexDigits(2, start)
		if err != nil {
			return err
		}
		writeCode(sb, n, isBytes)
		return nil
	case (c == 'u' || c == 'U') && !isBytes:
		width := 4
		if c == 'U' {
			width = 8
		}
		n, err := p.hexDigits(width, start)
		if err != nil {
			return err
		}
		if n > utf8.MaxRune {
			p.pos = start
			return p.errorf("escape \\%c exceeds maximum code point", c)
		}
		sb.WriteRune(rune(n))
		return nil
	case c == 'N' && !isBytes:
		p.pos = start
		return p.errorf("named unicode escapes are not supported")
	}

	// Unknown escapes are kept verbatim.
	sb.WriteByte('\\')
	p.pos--
	return p.copyChar(sb, isBytes)
}

func (p *parser) hexDigits(width, escapeStart int) (int, error) {
	if p.pos+width > len(p.src) {
		p.pos = escapeStart
		return 0, p.errorf("truncated escape sequence")
	}
	n, err := strconv.ParseUint(p.src[p.pos:p.pos+width], 16, 32)
	if err != nil {
		p.pos = escapeStart
		return 0, p.errorf("invalid escape sequence %q", p.src[escapeStart:p.pos+width])
	}
	p.pos += width
	return int(n), nil
}

func writeCode(sb *strings.Builder, n int, isBytes bool) {
	if isBytes {
		sb.WriteByte(byte(n & 0xff))
		return
	}
	sb.WriteRune(rune(n))
}

func (p *parser) number() (any, error) {
	start := p.pos
	negative := false
	if c := p.src[p.pos]; c == '+' || c == '-' {
		negative = c == '-'
		p.pos++
		p.skipSpace()
		if p.eof() || !(isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
			p.pos = start
			return nil, p.errorf("unary operator must be applied to a number")
		}
	}

	numStart := p.pos
	if p.src[p.pos] == '0' && p.pos+1 < len(p.src) {
		base := 0
		switch p.src[p.pos+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			p.pos += 2
			digits := p.scanDigits(func(c byte) bool { return isBaseDigit(c, base) })
			if err := p.checkNumberEnd(); err != nil {
				return nil, err
			}
			return p.makeInt(digits, base, negative, numStart)
		}
	}

	intPart := p.scanDigits(isDigit)
	isFloat := false
	if !p.eof() && p.src[p.pos] == '.' {
		isFloat = true
		p.pos++
		p.scanDigits(isDigit)
	}
	if !p.eof() && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		isFloat = true
		p.pos++
		if !p.eof() && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
			p.pos++
		}
		if p.scanDigits(isDigit) == "" {
			return nil, p.errorf("missing exponent digits")
		}
	}
	if err := p.checkNumberEnd(); err != nil {
		return nil, err
	}

	text := p.src[numStart:p.pos]
	if strings.Contains(text, "__") || strings.HasSuffix(text, "_") ||
		strings.Contains(text, "_.") || strings.Contains(text, "._") ||
		strings.Contains(text, "_e") || strings.Contains(text, "_E") {
		return nil, &SyntaxError{Offset: numStart, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	clean := strings.ReplaceAll(text, "_", "")

	if isFloat {
		if clean == "." {
			return nil, &SyntaxError{Offset: numStart, Msg: "invalid number \".\""}
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, &SyntaxError{Offset: numStart, Msg: fmt.Sprintf("invalid number %q", text)}
		}
		if negative {
			f = -f
		}
		return f, nil
	}

	if len(intPart) > 1 && intPart[0] == '0' && strings.Trim(intPart, "0_") != "" {
		return nil, &SyntaxError{Offset: numStart, Msg: fmt.Sprintf("leading zeros in decimal integer %q", text)}
	}
	return p.makeInt(text, 10, negative, numStart)
}

func (p *parser) scanDigits(accept func(byte) bool) string {
	start := p.pos
	for p.pos < len(p.src) && (accept(p.src[p.pos]) || p.src[p.pos] == '_') {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) checkNumberEnd() error {
	if !p.eof() && (isIdentPart(p.src[p.pos]) || p.src[p.pos] == '.') {
		return p.errorf("invalid character %q in number", p.peekRune())
	}
	return nil
}

func (p *parser) makeInt(digits string, base int, negative bool, offset int) (any, error) {
	if digits == "" || strings.HasPrefix(digits, "__") || strings.Contains(digits, "__") || strings.HasSuffix(digits, "_") {
		return nil, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("invalid number %q", p.src[offset:p.pos])}
	}
	n, ok := new(big.Int).SetString(strings.ReplaceAll(digits, "_", ""), base)
	if !ok {
		return nil, &SyntaxError{Offset: offset, Msg: fmt.Sprintf("invalid number %q", p.src[offset:p.pos])}
	}
	if negative {
		n.Neg(n)
	}
	if n.IsInt64() {
		return n.Int64(), nil
	}
	return n, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isBaseDigit(c byte, base int) bool {
	switch base {
	case 2:
		return c == '0' || c == '1'
	case 8:
		return c >= '0' && c <= '7'
	default:
		return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

// setKey returns a string equal for elements that compare equal as set
// members. Booleans and integral floats share the key of the matching integer.
func setKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(t, 10)
	case *big.Int:
		return t.String()
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			i, _ := big.NewFloat(t).Int(nil)
			return i.String()
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return "s" + strconv.Quote(t)
	case []byte:
		return "b" + strconv.Quote(string(t))
	case Tuple:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = setKey(item)
		}
		return "(" + strings.Join(parts, ",") + ")"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func hashable(v any) bool {
	switch t := v.(type) {
	case []any, map[string]any, Set:
		return false
	case Tuple:
		for _, item := range t {
			if !hashable(item) {
				return false
			}
		}
	}
	return true
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case bool:
		return "bool"
	case int64, *big.Int:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []byte:
		return "bytes"
	case []any:
		return "list"
	case Tuple:
		return "tuple"
	case Set:
		return "set"
	case map[string]any:
		return "dict"
	}
	return fmt.Sprintf("%T", v)
}
