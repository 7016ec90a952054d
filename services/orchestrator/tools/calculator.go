// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrInvalidExpression means the expression contains anything beyond
// numeric literals, + - * /, and parentheses, or is not well formed.
var ErrInvalidExpression = errors.New("invalid expression")

// ErrDivisionByZero is returned for a division whose divisor evaluates to zero.
var ErrDivisionByZero = errors.New("division by zero")

// Calculator evaluates restricted arithmetic expressions.
//
// The grammar is deliberately tiny. The expression is parsed with a
// recursive-descent parser, never handed to an interpreter or eval of any
// kind, so LLM-supplied expressions cannot smuggle in function calls,
// identifiers, or anything else executable.
//
//	expr   := term  (('+' | '-') term)*
//	term   := factor (('*' | '/') factor)*
//	factor := NUMBER | '(' expr ')' | '-' factor
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return "calculator" }

func (c *Calculator) Description() string {
	return "Evaluates an arithmetic expression using +, -, *, / and parentheses. " +
		"Numbers only; no variables or functions."
}

func (c *Calculator) Parameters() []ParamSpec {
	return []ParamSpec{
		{Name: "expression", Type: "string", Description: "The arithmetic expression to evaluate, e.g. \"(2 + 3) * 4\".", Required: true},
	}
}

func (c *Calculator) Execute(_ context.Context, args map[string]any) (map[string]any, error) {
	expression := args["expression"].(string)

	result, err := evaluate(expression)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"expression": expression,
		"result":     result,
	}, nil
}

// evaluate tokenizes and parses the expression, returning its value.
func evaluate(expression string) (float64, error) {
	if strings.TrimSpace(expression) == "" {
		return 0, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	toks, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	p := &exprParser{tokens: toks}
	val, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.tokens) {
		return 0, fmt.Errorf("%w: unexpected token %q", ErrInvalidExpression, p.tokens[p.pos])
	}
	return val, nil
}

// tokenize splits the expression into number and operator tokens.
// Any character outside the allowed set fails the whole expression.
func tokenize(expression string) ([]string, error) {
	var toks []string
	runes := []rune(expression)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '(' || r == ')':
			toks = append(toks, string(r))
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, string(runes[start:i]))
		default:
			return nil, fmt.Errorf("%w: illegal character %q", ErrInvalidExpression, r)
		}
	}
	return toks, nil
}

type exprParser struct {
	tokens []string
	pos    int
}

func (p *exprParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != "+" && op != "-" {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != "*" && op != "/" {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == "*" {
			left *= right
		} else {
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	tok := p.peek()
	switch {
	case tok == "":
		return 0, fmt.Errorf("%w: unexpected end of expression", ErrInvalidExpression)
	case tok == "(":
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ")" {
			return 0, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidExpression)
		}
		p.pos++
		return val, nil
	case tok == "-":
		p.pos++
		val, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -val, nil
	default:
		val, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad number %q", ErrInvalidExpression, tok)
		}
		return val, nil
	}
}
