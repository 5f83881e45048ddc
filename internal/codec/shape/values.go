package shape

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/vietddude/chainwallet/internal/codec/metadata"
)

func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("shape: nil integer")
		}
		return n, nil
	case big.Int:
		return &n, nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return nil, fmt.Errorf("shape: non-integral number %v", n)
		}
		out, _ := big.NewFloat(n).Int(nil)
		return out, nil
	case json.Number:
		return parseInt(n.String())
	case string:
		return parseInt(n)
	}
	return nil, fmt.Errorf("shape: expected integer, got %T", v)
}

func parseInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	out, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("shape: invalid integer %q", s)
	}
	return out, nil
}

func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if strings.HasPrefix(b, "0x") {
			out, err := hex.DecodeString(b[2:])
			if err != nil {
				return nil, fmt.Errorf("shape: invalid hex: %w", err)
			}
			return out, nil
		}
		return []byte(b), nil
	case []any:
		out := make([]byte, len(b))
		for i, item := range b {
			n, err := toBigInt(item)
			if err != nil || !n.IsUint64() || n.Uint64() > math.MaxUint8 {
				return nil, fmt.Errorf("shape: element %d is not a byte", i)
			}
			out[i] = byte(n.Uint64())
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, fmt.Errorf("shape: expected bytes, got %T", v)
}

func toSlice(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("shape: expected sequence, got %T", v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func toEnum(v any) (string, any, error) {
	switch e := v.(type) {
	case Enum:
		return e.Tag, e.Value, nil
	case *Enum:
		return e.Tag, e.Value, nil
	case string:
		return e, nil, nil
	case map[string]any:
		if len(e) == 1 {
			for tag, payload := range e {
				return tag, payload, nil
			}
		}
		return "", nil, fmt.Errorf("shape: variant map must have exactly one key, got %d", len(e))
	}
	return "", nil, fmt.Errorf("shape: expected variant, got %T", v)
}

// NormalizeName converts a wire field name to lowerCamelCase. It is
// idempotent: NormalizeName(NormalizeName(s)) == NormalizeName(s).
func NormalizeName(s string) string {
	var b strings.Builder
	upperNext := false
	for _, r := range s {
		if r == '_' {
			upperNext = b.Len() > 0
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}
	out := []rune(b.String())
	if len(out) > 0 {
		out[0] = unicode.ToLower(out[0])
	}
	return string(out)
}

func normalizeFieldNames(fields []metadata.Field) []string {
	names := make([]string, len(fields))
	seen := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			names[i] = strconv.Itoa(i)
			continue
		}
		n := NormalizeName(f.Name)
		for c := seen[n]; c > 0; c = seen[n] {
			seen[n] = c + 1
			n += strconv.Itoa(c)
		}
		seen[n] = 1
		names[i] = n
	}
	return names
}
