package gpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalExpr(t *testing.T, expr string, input float64, params map[string]float64) float64 {
	t.Helper()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	node, err := parseExpression(expr, names)
	require.NoError(t, err)
	return node.eval(input, params)
}

func TestParseExpression(t *testing.T) {
	t.Run("arithmetic and precedence", func(t *testing.T) {
		assert.InDelta(t, 7.0, evalExpr(t, "1.0 + 2.0 * 3.0", 0, nil), 1e-12)
		assert.InDelta(t, 9.0, evalExpr(t, "(1.0 + 2.0) * 3.0", 0, nil), 1e-12)
		assert.InDelta(t, -2.5, evalExpr(t, "-5.0 / 2.0", 0, nil), 1e-12)
		assert.InDelta(t, 2.0, evalExpr(t, "5.0 - 2.0 - 1.0", 0, nil), 1e-12)
	})

	t.Run("input token", func(t *testing.T) {
		assert.InDelta(t, 6.0, evalExpr(t, "2.0 * input", 3, nil), 1e-12)
		assert.InDelta(t, -3.0, evalExpr(t, "-input", 3, nil), 1e-12)
	})

	t.Run("parameters", func(t *testing.T) {
		got := evalExpr(t, "alpha * input + beta", 2, map[string]float64{"alpha": 1.5, "beta": 0.5})
		assert.InDelta(t, 3.5, got, 1e-12)
	})

	t.Run("ternary and comparisons", func(t *testing.T) {
		expr := "input > 0.0 ? input : alpha * input"
		params := map[string]float64{"alpha": 0.1}
		assert.InDelta(t, 4.0, evalExpr(t, expr, 4, params), 1e-12)
		assert.InDelta(t, -0.4, evalExpr(t, expr, -4, params), 1e-12)
		assert.InDelta(t, 1.0, evalExpr(t, "input >= 2.0 ? 1.0 : 0.0", 2, nil), 1e-12)
		assert.InDelta(t, 0.0, evalExpr(t, "input != input ? 1.0 : 0.0", 5, nil), 1e-12)
	})

	t.Run("builtin functions", func(t *testing.T) {
		assert.InDelta(t, 0.5, evalExpr(t, "1.0 / (1.0 + exp(-input))", 0, nil), 1e-12)
		assert.InDelta(t, math.Tanh(1.3), evalExpr(t, "tanh(input)", 1.3, nil), 1e-12)
		assert.InDelta(t, 3.0, evalExpr(t, "max(input, 3.0)", 2, nil), 1e-12)
		assert.InDelta(t, 8.0, evalExpr(t, "pow(input, 3.0)", 2, nil), 1e-12)
		assert.InDelta(t, 2.0, evalExpr(t, "sqrt(fabs(input))", -4, nil), 1e-12)
	})

	t.Run("scientific notation", func(t *testing.T) {
		assert.InDelta(t, 1e-5, evalExpr(t, "1e-5", 0, nil), 1e-18)
		assert.InDelta(t, 250.0, evalExpr(t, "2.5e2", 0, nil), 1e-12)
		assert.InDelta(t, 1e5, evalExpr(t, "1e+5", 0, nil), 1e-9)
		assert.InDelta(t, 0.15, evalExpr(t, "1.5e+0 * input", 0.1, nil), 1e-12)
	})

	t.Run("gelu constant expression", func(t *testing.T) {
		expr := "0.5 * input * (1.0 + tanh(0.7978845608028654 * (input + 0.044715 * input * input * input)))"
		got := evalExpr(t, expr, 1.0, nil)
		assert.InDelta(t, 0.8411919906, got, 1e-9)
	})
}

func TestParseExpressionRejects(t *testing.T) {
	cases := []struct {
		name   string
		expr   string
		params []string
	}{
		{"typo in input token", "2.0 * inpt", nil},
		{"undeclared parameter", "alpha * input", nil},
		{"unknown function", "relu6(input)", nil},
		{"wrong arity", "max(input)", nil},
		{"missing close paren", "(input + 1.0", nil},
		{"missing ternary else", "input > 0.0 ? input", nil},
		{"trailing garbage", "input + 1.0 )", nil},
		{"empty expression", "", nil},
		{"bad number", "1.2.3 * input", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseExpression(tc.expr, tc.params)
			require.Error(t, err)
		})
	}
}

func TestParseExpressionValidatesBeforeUse(t *testing.T) {
	// A declared parameter makes the identifier valid; the same expression
	// without the declaration must fail.
	_, err := parseExpression("beta * input", []string{"beta"})
	require.NoError(t, err)
	_, err = parseExpression("beta * input", nil)
	require.Error(t, err)
}
