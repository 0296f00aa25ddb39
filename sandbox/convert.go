package sandbox

import (
	"fmt"
	"sort"
	"strconv"

	lua "github.com/Shopify/go-lua"
)

// pushValue converts a Go value onto the Lua stack. Maps become tables with
// string keys, slices become sequences. Unconvertible values degrade to
// their Go string form rather than failing the call.
func pushValue(l *lua.State, v any) {
	switch val := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(val)
	case int:
		l.PushInteger(val)
	case int64:
		l.PushInteger(int(val))
	case float64:
		l.PushNumber(val)
	case string:
		l.PushString(val)
	case []any:
		l.CreateTable(len(val), 0)
		for i, item := range val {
			pushValue(l, item)
			l.RawSetInt(-2, i+1)
		}
	case map[string]any:
		l.CreateTable(0, len(val))
		for key, item := range val {
			pushValue(l, item)
			l.SetField(-2, key)
		}
	default:
		l.PushString(fmt.Sprintf("%v", val))
	}
}

// pullValue converts the Lua value at index into a Go value. Numbers with
// no fractional part come back as int64 so coerced integer attributes
// survive a round trip through guest code. Sequential tables become []any,
// everything else map[string]any.
func pullValue(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return nil
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		return pullTable(l, index)
	default:
		// Functions, userdata and threads have no portable Go shape.
		return nil
	}
}

func pullTable(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	entries := map[string]any{}
	var arrayKeys []int

	l.PushNil()
	for l.Next(index) {
		value := pullValue(l, -1)
		switch l.TypeOf(-2) {
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			if n == float64(int(n)) {
				arrayKeys = append(arrayKeys, int(n))
				entries[strconv.Itoa(int(n))] = value
			} else {
				entries[strconv.FormatFloat(n, 'g', -1, 64)] = value
			}
		case lua.TypeString:
			key, _ := l.ToString(-2)
			entries[key] = value
		default:
			// Non-scalar keys are dropped; they have no JSON shape.
		}
		l.Pop(1)
	}

	if len(entries) > 0 && len(arrayKeys) == len(entries) {
		sort.Ints(arrayKeys)
		sequential := true
		for i, k := range arrayKeys {
			if k != i+1 {
				sequential = false
				break
			}
		}
		if sequential {
			out := make([]any, len(arrayKeys))
			for i, k := range arrayKeys {
				out[i] = entries[strconv.Itoa(k)]
			}
			return out
		}
	}
	return entries
}

// stringifyValue renders the value at index the way Lua's print would.
func stringifyValue(l *lua.State, index int) string {
	switch l.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(index))
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return strconv.FormatFloat(n, 'g', -1, 64)
	case lua.TypeString:
		s, _ := l.ToString(index)
		return s
	case lua.TypeTable:
		return "table"
	case lua.TypeFunction:
		return "function"
	default:
		return "userdata"
	}
}
