package gpu

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Activation expressions are written in portable C kernel syntax (valid
// WGSL-free OpenCL C, CUDA C and MSL): arithmetic, comparisons, the ternary
// conditional, and calls to a fixed set of math builtins over the token
// "input" and declared parameter names. This file parses that dialect so
// registrations fail fast on malformed expressions and so the CPU path can
// evaluate the same formula the GPU compiles.

// exprFuncs is the whitelisted math builtin set, shared by every backend's
// kernel language.
var exprFuncs = map[string]func([]float64) float64{
	"exp":   func(a []float64) float64 { return math.Exp(a[0]) },
	"log":   func(a []float64) float64 { return math.Log(a[0]) },
	"tanh":  func(a []float64) float64 { return math.Tanh(a[0]) },
	"sqrt":  func(a []float64) float64 { return math.Sqrt(a[0]) },
	"fabs":  func(a []float64) float64 { return math.Abs(a[0]) },
	"erf":   func(a []float64) float64 { return math.Erf(a[0]) },
	"sin":   func(a []float64) float64 { return math.Sin(a[0]) },
	"cos":   func(a []float64) float64 { return math.Cos(a[0]) },
	"max":   func(a []float64) float64 { return math.Max(a[0], a[1]) },
	"min":   func(a []float64) float64 { return math.Min(a[0], a[1]) },
	"pow":   func(a []float64) float64 { return math.Pow(a[0], a[1]) },
	"floor": func(a []float64) float64 { return math.Floor(a[0]) },
}

var exprFuncArity = map[string]int{
	"exp": 1, "log": 1, "tanh": 1, "sqrt": 1, "fabs": 1, "erf": 1,
	"sin": 1, "cos": 1, "floor": 1,
	"max": 2, "min": 2, "pow": 2,
}

// exprNode is one node of a parsed expression.
type exprNode interface {
	eval(input float64, params map[string]float64) float64
}

type numNode float64

func (n numNode) eval(float64, map[string]float64) float64 { return float64(n) }

type varNode string

func (n varNode) eval(input float64, params map[string]float64) float64 {
	if n == "input" {
		return input
	}
	return params[string(n)]
}

type unaryNode struct {
	op rune
	x  exprNode
}

func (n unaryNode) eval(input float64, params map[string]float64) float64 {
	v := n.x.eval(input, params)
	if n.op == '-' {
		return -v
	}
	return v
}

type binNode struct {
	op   string
	l, r exprNode
}

func (n binNode) eval(input float64, params map[string]float64) float64 {
	l := n.l.eval(input, params)
	r := n.r.eval(input, params)
	switch n.op {
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		return l / r
	case ">":
		return boolVal(l > r)
	case "<":
		return boolVal(l < r)
	case ">=":
		return boolVal(l >= r)
	case "<=":
		return boolVal(l <= r)
	case "==":
		return boolVal(l == r)
	case "!=":
		return boolVal(l != r)
	default:
		return math.NaN()
	}
}

type condNode struct {
	cond, then, els exprNode
}

func (n condNode) eval(input float64, params map[string]float64) float64 {
	if n.cond.eval(input, params) != 0 {
		return n.then.eval(input, params)
	}
	return n.els.eval(input, params)
}

type callNode struct {
	name string
	args []exprNode
}

func (n callNode) eval(input float64, params map[string]float64) float64 {
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		args[i] = a.eval(input, params)
	}
	return exprFuncs[n.name](args)
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// parseExpression parses expr and validates that every identifier is
// "input", one of paramNames, or a whitelisted math builtin used as a call.
func parseExpression(expr string, paramNames []string) (exprNode, error) {
	p := &exprParser{src: expr, params: make(map[string]bool, len(paramNames))}
	for _, name := range paramNames {
		p.params[name] = true
	}
	node, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d in %q", p.src[p.pos:], p.pos, expr)
	}
	return node, nil
}

type exprParser struct {
	src    string
	pos    int
	params map[string]bool
}

func (p *exprParser) parseTernary() (exprNode, error) {
	cond, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if !p.consume("?") {
		return cond, nil
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if !p.consume(":") {
		return nil, fmt.Errorf("expected ':' at offset %d in %q", p.pos, p.src)
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return condNode{cond: cond, then: then, els: els}, nil
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if p.consume(op) {
			right, err := p.parseSum()
			if err != nil {
				return nil, err
			}
			return binNode{op: op, l: left, r: right}, nil
		}
	}
	return left, nil
}

func (p *exprParser) parseSum() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.consume("+"):
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binNode{op: "+", l: left, r: right}
		case p.consume("-"):
			right, err := p.parseTerm()
			if err != nil {
				return nil, err
			}
			left = binNode{op: "-", l: left, r: right}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.consume("*"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = binNode{op: "*", l: left, r: right}
		case p.consume("/"):
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = binNode{op: "/", l: left, r: right}
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.consume("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: '-', x: x}, nil
	}
	p.consume("+")
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of expression %q", p.src)
	}

	c := p.src[p.pos]
	switch {
	case c == '(':
		p.pos++
		node, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if !p.consume(")") {
			return nil, fmt.Errorf("missing ')' at offset %d in %q", p.pos, p.src)
		}
		return node, nil

	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.' || p.src[p.pos] == 'e' ||
			((p.src[p.pos] == '-' || p.src[p.pos] == '+') && p.pos > start && p.src[p.pos-1] == 'e')) {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q in %q", p.src[start:p.pos], p.src)
		}
		return numNode(v), nil

	case isIdentStart(c):
		start := p.pos
		for p.pos < len(p.src) && isIdent(p.src[p.pos]) {
			p.pos++
		}
		name := p.src[start:p.pos]
		if p.consume("(") {
			return p.parseCall(name)
		}
		if name != "input" && !p.params[name] {
			return nil, fmt.Errorf("unknown identifier %q in %q (valid tokens: input, declared parameters)", name, p.src)
		}
		return varNode(name), nil

	default:
		return nil, fmt.Errorf("unexpected %q at offset %d in %q", string(c), p.pos, p.src)
	}
}

func (p *exprParser) parseCall(name string) (exprNode, error) {
	arity, ok := exprFuncArity[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q in %q (supported: %s)", name, p.src, strings.Join(exprFuncNames(), ", "))
	}
	var args []exprNode
	if !p.consume(")") {
		for {
			arg, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.consume(")") {
				break
			}
			if !p.consume(",") {
				return nil, fmt.Errorf("expected ',' or ')' at offset %d in %q", p.pos, p.src)
			}
		}
	}
	if len(args) != arity {
		return nil, fmt.Errorf("%s takes %d arguments, got %d in %q", name, arity, len(args), p.src)
	}
	return callNode{name: name, args: args}, nil
}

func (p *exprParser) consume(tok string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], tok) {
		// Do not split ">=" style operators when asked for ">".
		if (tok == ">" || tok == "<" || tok == "=" || tok == "!") &&
			p.pos+1 < len(p.src) && p.src[p.pos+1] == '=' {
			return false
		}
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }
func isIdent(c byte) bool      { return isIdentStart(c) || isDigit(c) }

func exprFuncNames() []string {
	names := make([]string, 0, len(exprFuncArity))
	for name := range exprFuncArity {
		names = append(names, name)
	}
	return names
}
