package interp

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cryguy/hisescript/internal/core"
	"github.com/cryguy/hisescript/internal/parser"
	"github.com/cryguy/hisescript/internal/value"
)

type method func(in *Interpreter, recv value.Value, args []value.Value) (value.Value, error)

var arrayMethods = map[string]method{
	"push": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Int(recv.Array().Push(args...)), nil
	},
	"pop": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		a := recv.Array()
		if a.Len() == 0 {
			return value.Undefined(), nil
		}
		last := a.Elems[a.Len()-1]
		a.Elems = a.Elems[:a.Len()-1]
		return last, nil
	},
	"indexOf": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Int(recv.Array().IndexOf(arg(args, 0))), nil
	},
	"contains": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(recv.Array().IndexOf(arg(args, 0)) >= 0), nil
	},
	"join": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		sep := ","
		if len(args) > 0 {
			sep = args[0].String()
		}
		parts := make([]string, recv.Array().Len())
		for i, e := range recv.Array().Elems {
			parts[i] = e.String()
		}
		return value.Str(strings.Join(parts, sep)), nil
	},
	"reverse": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		e := recv.Array().Elems
		for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
			e[i], e[j] = e[j], e[i]
		}
		return recv, nil
	},
	"insert": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		a := recv.Array()
		if len(args) == 0 {
			return value.Undefined(), nil
		}
		i := args[0].ToInt()
		if i < 0 || i > a.Len() {
			i = a.Len()
		}
		rest := args[1:]
		a.Elems = append(a.Elems[:i], append(append([]value.Value(nil), rest...), a.Elems[i:]...)...)
		return value.Int(a.Len()), nil
	},
	"remove": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		a := recv.Array()
		out := a.Elems[:0]
		for _, e := range a.Elems {
			if !value.LooseEquals(e, arg(args, 0)) {
				out = append(out, e)
			}
		}
		a.Elems = out
		return value.Undefined(), nil
	},
	"removeElement": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		a := recv.Array()
		i := arg(args, 0).ToInt()
		if i < 0 || i >= a.Len() {
			return value.Undefined(), nil
		}
		a.Elems = append(a.Elems[:i], a.Elems[i+1:]...)
		return value.Undefined(), nil
	},
	"clear": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		recv.Array().Elems = recv.Array().Elems[:0]
		return value.Undefined(), nil
	},
	"concat": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		a := recv.Array()
		for _, x := range args {
			if x.IsArray() {
				a.Push(x.Array().Elems...)
			} else {
				a.Push(x)
			}
		}
		return recv, nil
	},
	"sort": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		e := recv.Array().Elems
		sort.SliceStable(e, func(i, j int) bool {
			c, ok := value.Compare(e[i], e[j])
			return ok && c < 0
		})
		return recv, nil
	},
	"clone": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Clone(recv), nil
	},
	"isEmpty": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Bool(recv.Array().Len() == 0), nil
	},
}

var stringMethods = map[string]method{
	"charAt": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		r := []rune(recv.String())
		i := arg(args, 0).ToInt()
		if i < 0 || i >= len(r) {
			return value.Str(""), nil
		}
		return value.Str(string(r[i])), nil
	},
	"charCodeAt": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		r := []rune(recv.String())
		i := arg(args, 0).ToInt()
		if i < 0 || i >= len(r) {
			return value.Int(0), nil
		}
		return value.Int(int(r[i])), nil
	},
	"substring": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		r := []rune(recv.String())
		start := clamp(arg(args, 0).ToInt(), 0, len(r))
		end := len(r)
		if len(args) > 1 {
			end = clamp(args[1].ToInt(), 0, len(r))
		}
		if start > end {
			start, end = end, start
		}
		return value.Str(string(r[start:end])), nil
	},
	"indexOf": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		s := recv.String()
		i := strings.Index(s, arg(args, 0).String())
		if i < 0 {
			return value.Int(-1), nil
		}
		return value.Int(utf8.RuneCountInString(s[:i])), nil
	},
	"contains": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.Contains(recv.String(), arg(args, 0).String())), nil
	},
	"split": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		sep := ""
		if len(args) > 0 {
			sep = args[0].String()
		}
		parts := strings.Split(recv.String(), sep)
		arr := value.NewArray(len(parts))
		for _, p := range parts {
			arr.Push(value.Str(p))
		}
		return value.ArrayValue(arr), nil
	},
	"replace": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Str(strings.ReplaceAll(recv.String(), arg(args, 0).String(), arg(args, 1).String())), nil
	},
	"trim": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Str(strings.TrimSpace(recv.String())), nil
	},
	"toUpperCase": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Str(strings.ToUpper(recv.String())), nil
	},
	"toLowerCase": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Str(strings.ToLower(recv.String())), nil
	},
	"startsWith": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.HasPrefix(recv.String(), arg(args, 0).String())), nil
	},
	"endsWith": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(strings.HasSuffix(recv.String(), arg(args, 0).String())), nil
	},
}

var objectMethods = map[string]method{
	"hasOwnProperty": func(_ *Interpreter, recv value.Value, args []value.Value) (value.Value, error) {
		return value.Bool(recv.Object().Has(arg(args, 0).String())), nil
	},
	"clone": func(_ *Interpreter, recv value.Value, _ []value.Value) (value.Value, error) {
		return value.Clone(recv), nil
	},
}

func arg(args []value.Value, i int) value.Value {
	if i < len(args) {
		return args[i]
	}
	return value.Undefined()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// callMethod runs a built-in method of arrays, strings and objects. The
// second result reports whether name is such a method.
func (in *Interpreter) callMethod(recv value.Value, name string, args []value.Value, n parser.Node, f *frame) (value.Value, bool, error) {
	var m method
	switch recv.Kind() {
	case value.KindArray:
		m = arrayMethods[name]
	case value.KindString:
		m = stringMethods[name]
	case value.KindObject:
		m = objectMethods[name]
	case value.KindFunction:
		if name == "call" {
			this := arg(args, 0)
			var rest []value.Value
			if len(args) > 1 {
				rest = args[1:]
			}
			v, err := in.callValue(recv, this, rest, n, f)
			return v, true, err
		}
	}
	if m == nil {
		return value.Undefined(), false, nil
	}
	v, err := m(in, recv, args)
	if err != nil {
		return value.Undefined(), true, in.wrap(f, n, err)
	}
	return v, true, nil
}

// builtinError creates an error for a builtin without location; the
// caller's wrap attaches the call site.
func builtinError(format string, args ...any) error {
	return core.NewScriptError(core.RuntimeError, core.CodeLocation{}, format, args...)
}
