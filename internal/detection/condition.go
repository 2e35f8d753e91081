package detection

import (
	"fmt"
	"path"
	"strings"
)

// The condition grammar over selection names:
//
//	expr    := or
//	or      := and ("or" and)*
//	and     := unary ("and" unary)*
//	unary   := "not" unary | primary
//	primary := "(" expr ")" | "1 of" glob | "all of" glob | name
//
// Globs use shell-style matching; "them" matches every selection.
// Anything outside this grammar is rejected at rule load time.

type condExpr interface {
	eval(results map[string]bool) (bool, error)
}

type condAtom struct{ name string }

func (a condAtom) eval(results map[string]bool) (bool, error) {
	v, ok := results[a.name]
	if !ok {
		return false, fmt.Errorf("unknown selection %q", a.name)
	}
	return v, nil
}

type condNot struct{ inner condExpr }

func (n condNot) eval(results map[string]bool) (bool, error) {
	v, err := n.inner.eval(results)
	return !v, err
}

type condAnd struct{ parts []condExpr }

func (a condAnd) eval(results map[string]bool) (bool, error) {
	for _, p := range a.parts {
		v, err := p.eval(results)
		if err != nil || !v {
			return false, err
		}
	}
	return true, nil
}

type condOr struct{ parts []condExpr }

func (o condOr) eval(results map[string]bool) (bool, error) {
	for _, p := range o.parts {
		v, err := p.eval(results)
		if err != nil {
			return false, err
		}
		if v {
			return true, nil
		}
	}
	return false, nil
}

// condOf is the "1 of <glob>" / "all of <glob>" quantifier.
type condOf struct {
	all  bool
	glob string
}

func (c condOf) eval(results map[string]bool) (bool, error) {
	matchedAny := false
	for name, v := range results {
		ok := c.glob == "them"
		if !ok {
			m, err := path.Match(c.glob, name)
			if err != nil {
				return false, fmt.Errorf("bad glob %q: %w", c.glob, err)
			}
			ok = m
		}
		if !ok {
			continue
		}
		matchedAny = true
		if c.all && !v {
			return false, nil
		}
		if !c.all && v {
			return true, nil
		}
	}
	if !matchedAny {
		return false, fmt.Errorf("glob %q matches no selection", c.glob)
	}
	return c.all, nil
}

// parseCondition compiles a condition string. Errors here mean the rule
// is malformed and must be skipped.
func parseCondition(cond string) (condExpr, error) {
	toks := tokenizeCondition(cond)
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty condition")
	}
	p := &condParser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q", p.toks[p.pos])
	}
	return expr, nil
}

func tokenizeCondition(cond string) []string {
	cond = strings.ReplaceAll(cond, "(", " ( ")
	cond = strings.ReplaceAll(cond, ")", " ) ")
	return strings.Fields(cond)
}

type condParser struct {
	toks []string
	pos  int
}

func (p *condParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *condParser) next() string {
	t := p.peek()
	if t != "" {
		p.pos++
	}
	return t
}

func (p *condParser) parseOr() (condExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	parts := []condExpr{left}
	for strings.EqualFold(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		parts = append(parts, right)
	}
	if len(parts) == 1 {
		return left, nil
	}
	return condOr{parts: parts}, nil
}

func (p *condParser) parseAnd() (condExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	parts := []condExpr{left}
	for strings.EqualFold(p.peek(), "and") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		parts = append(parts, right)
	}
	if len(parts) == 1 {
		return left, nil
	}
	return condAnd{parts: parts}, nil
}

func (p *condParser) parseUnary() (condExpr, error) {
	if strings.EqualFold(p.peek(), "not") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return condNot{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (condExpr, error) {
	tok := p.next()
	switch {
	case tok == "":
		return nil, fmt.Errorf("unexpected end of condition")
	case tok == "(":
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return expr, nil
	case tok == ")":
		return nil, fmt.Errorf("unexpected closing parenthesis")
	case tok == "1" || strings.EqualFold(tok, "all"):
		if !strings.EqualFold(p.peek(), "of") {
			if tok == "1" {
				return nil, fmt.Errorf("expected 'of' after '1'")
			}
			// "all" used as a plain selection name.
			return condAtom{name: tok}, nil
		}
		p.next()
		glob := p.next()
		if glob == "" {
			return nil, fmt.Errorf("missing glob after 'of'")
		}
		return condOf{all: strings.EqualFold(tok, "all"), glob: glob}, nil
	default:
		return condAtom{name: tok}, nil
	}
}
