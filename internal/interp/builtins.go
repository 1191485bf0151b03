package interp

import (
	"math"
	"strconv"
	"strings"

	"github.com/cryguy/hisescript/internal/value"
)

// newBuiltins returns the free functions available in every scope.
func newBuiltins(in *Interpreter) map[string]value.Value {
	return map[string]value.Value{
		"isDefined": value.Native("isDefined", 1, func(_ value.Value, args []value.Value) (value.Value, error) {
			return value.Bool(!args[0].IsVoid()), nil
		}),
		"parseInt": value.Native("parseInt", -1, func(_ value.Value, args []value.Value) (value.Value, error) {
			if len(args) == 0 {
				return value.Int(0), builtinError("parseInt: missing argument")
			}
			radix := 10
			if len(args) > 1 {
				radix = args[1].ToInt()
			}
			s := strings.TrimSpace(args[0].String())
			if radix == 16 {
				s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
			}
			end := 0
			for end < len(s) && (end == 0 && (s[0] == '-' || s[0] == '+') || digitValue(s[end]) < radix) {
				end++
			}
			n, err := strconv.ParseInt(s[:end], radix, 64)
			if err != nil {
				return value.Int(0), nil
			}
			return value.Integer(n), nil
		}),
		"parseFloat": value.Native("parseFloat", 1, func(_ value.Value, args []value.Value) (value.Value, error) {
			s := strings.TrimSpace(args[0].String())
			for end := len(s); end > 0; end-- {
				if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
					return value.Double(f), nil
				}
			}
			return value.Double(math.NaN()), nil
		}),
		"trace": value.Native("trace", 1, func(_ value.Value, args []value.Value) (value.Value, error) {
			return value.Str(value.ToJSON(args[0])), nil
		}),
		"Array": value.Native("Array", -1, func(_ value.Value, args []value.Value) (value.Value, error) {
			return value.NewArrayOf(args...), nil
		}),
		"Object": value.Native("Object", 0, func(value.Value, []value.Value) (value.Value, error) {
			return value.ObjectValue(value.NewObject()), nil
		}),
		"checkCyclicReferences": value.Native("checkCyclicReferences", 0, func(value.Value, []value.Value) (value.Value, error) {
			refs := in.CheckCyclicReferences()
			arr := value.NewArray(len(refs))
			for _, r := range refs {
				arr.Push(value.Str(r.String()))
			}
			return value.ArrayValue(arr), nil
		}),
	}
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return 99
}
