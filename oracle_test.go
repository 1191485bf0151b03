package hisescript

import (
	"fmt"
	"math"
	"testing"

	"modernc.org/quickjs"

	"github.com/cryguy/hisescript/internal/value"
)

// Expressions whose result must agree with a reference JavaScript engine.
var oracleExpressions = []string{
	"1 + 2 * 3 - 4 / 8",
	"(1 + 2) * 3",
	"7 / 2",
	"7 % 3",
	"-7 % 3",
	"7.5 % 2",
	"0.1 + 0.2",
	"5 & 3",
	"5 | 3",
	"5 ^ 3",
	"~5",
	"1 << 4",
	"-16 >> 2",
	"3 > 2",
	"3 <= 2",
	"2 == 2.0",
	"1 != 1",
	"!true",
	"1 < 2 ? 10 : 20",
	"\"a\" + 1",
	"1 + \"2\"",
	"\"x\" + 1.5",
	"Math.abs(-3.5)",
	"Math.pow(2, 10)",
	"Math.sqrt(16) * 2",
	"Math.max(2, 7) + Math.floor(2.7)",
	"Math.min(3, -1)",
	"Math.ceil(1.2)",
	"Math.sin(0) + Math.cos(0)",
	"Math.atan2(1, 1)",
	"Math.exp(1)",
	"Math.log(10)",
	"Math.PI * 2",
	"-(3 - 5)",
}

func TestEvaluate_MatchesJavaScript(t *testing.T) {
	vm, err := quickjs.NewVM()
	if err != nil {
		t.Fatalf("creating VM: %v", err)
	}
	defer vm.Close()

	e, _ := newTestEngine(t, DefaultConfig())
	mustCompile(t, e, "var ready = true;")

	for _, expr := range oracleExpressions {
		want, err := vm.Eval(expr, quickjs.EvalGlobal)
		if err != nil {
			t.Fatalf("reference %q: %v", expr, err)
		}
		got, err := e.Evaluate(expr)
		if err != nil {
			t.Errorf("%s: %v", expr, err)
			continue
		}
		if msg := compareWithJS(got, want); msg != "" {
			t.Errorf("%s: %s", expr, msg)
		}
	}
}

func compareWithJS(got value.Value, want any) string {
	switch w := want.(type) {
	case bool:
		if !got.IsBool() || got.ToBool() != w {
			return fmt.Sprintf("got %v, want %v", got, w)
		}
	case string:
		if !got.IsString() || got.String() != w {
			return fmt.Sprintf("got %q, want %q", got.String(), w)
		}
	case int:
		return compareNumber(got, float64(w))
	case int32:
		return compareNumber(got, float64(w))
	case int64:
		return compareNumber(got, float64(w))
	case float64:
		return compareNumber(got, w)
	default:
		return fmt.Sprintf("unexpected reference result %T", want)
	}
	return ""
}

func compareNumber(got value.Value, want float64) string {
	if !got.IsNumeric() {
		return fmt.Sprintf("got %s %v, want number %v", got.TypeOf(), got, want)
	}
	if d := math.Abs(got.ToDouble() - want); d > 1e-12 {
		return fmt.Sprintf("got %v, want %v", got.ToDouble(), want)
	}
	return ""
}
