package literal

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrUnsupportedValue is returned by Format for values that have no literal form.
var ErrUnsupportedValue = errors.New("value has no literal representation")

// Format renders v as literal text that Parse decodes back to an equal value.
// Mapping keys are written in sorted order. Strings must be valid UTF-8.
//
// Integers always decode as int64, or *big.Int outside the int64 range, so
// int, int32 and uint64 values come back with a different Go type.
func Format(v any) (string, error) {
	var sb strings.Builder
	if err := format(&sb, v); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func format(sb *strings.Builder, v any) error {
	switch t := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if t {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case string:
		return formatString(sb, t)
	case []byte:
		sb.WriteString(quoteBytes(t))
	case int:
		sb.WriteString(strconv.Itoa(t))
	case int32:
		sb.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		sb.WriteString(strconv.FormatInt(t, 10))
	case uint64:
		sb.WriteString(strconv.FormatUint(t, 10))
	case *big.Int:
		sb.WriteString(t.String())
	case float64:
		return formatFloat(sb, t)
	case float32:
		return formatFloat(sb, float64(t))
	case Tuple:
		sb.WriteByte('(')
		if err := formatItems(sb, t); err != nil {
			return err
		}
		if len(t) == 1 {
			sb.WriteByte(',')
		}
		sb.WriteByte(')')
	case Set:
		if len(t) == 0 {
			return fmt.Errorf("%w: empty set", ErrUnsupportedValue)
		}
		sb.WriteByte('{')
		if err := formatItems(sb, t); err != nil {
			return err
		}
		sb.WriteByte('}')
	case []any:
		sb.WriteByte('[')
		if err := formatItems(sb, t); err != nil {
			return err
		}
		sb.WriteByte(']')
	case map[string]any:
		return formatMap(sb, t)
	default:
		return formatReflect(sb, v)
	}
	return nil
}

// formatReflect handles named map and slice types such as a plugin's own
// section type.
func formatReflect(sb *strings.Builder, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map with %s keys", ErrUnsupportedValue, rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return formatMap(sb, m)
	case reflect.Slice:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return format(sb, items)
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func formatMap(sb *strings.Builder, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := formatString(sb, k); err != nil {
			return err
		}
		sb.WriteString(": ")
		if err := format(sb, m[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func formatItems(sb *strings.Builder, items []any) error {
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		if err := format(sb, item); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(sb *strings.Builder, f float64) error {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	sb.WriteString(s)
	return nil
}

func formatString(sb *strings.Builder, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: string %q is not valid UTF-8", ErrUnsupportedValue, s)
	}
	sb.WriteString(quote(s))
	return nil
}

// quote picks single quotes unless the text contains a single quote and no
// double quote.
func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var sb strings.Builder
	sb.WriteByte(q)
	for _, r := range s {
		switch {
		case r == '\\':
			sb.WriteString(`\\`)
		case r == rune(q):
			sb.WriteByte('\\')
			sb.WriteByte(q)
		case r == '\n':
			sb.WriteString(`\n`)
		case r == '\r':
			sb.WriteString(`\r`)
		case r == '\t':
			sb.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, r)
		case !unicode.IsPrint(r):
			if r > 0xffff {
				fmt.Fprintf(&sb, `\U%08x`, r)
			} else {
				fmt.Fprintf(&sb, `\u%04x`, r)
			}
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte(q)
	return sb.String()
}

func quoteBytes(b []byte) string {
	var sb strings.Builder
	sb.WriteString("b'")
	for _, c := range b {
		switch {
		case c == '\\':
			sb.WriteString(`\\`)
		case c == '\'':
			sb.WriteString(`\'`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			fmt.Fprintf(&sb, `\x%02x`, c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('\'')
	return sb.String()
}
