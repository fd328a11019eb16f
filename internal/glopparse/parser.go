package glopparse

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/glop/glop/internal/glopast"
	"github.com/glop/glop/internal/glopvalue"
)

// Parse turns glop source text into a Program. It enforces the same
// non-empty invariants glopast documents the parser must: a program
// needs at least one Match, and every Match needs at least one
// condition and one action.
func Parse(src string) (glopast.Program, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return glopast.Program{}, err
	}

	var matches []glopast.Match
	for p.tok.Type != TokenEOF {
		m, err := p.parseMatch()
		if err != nil {
			return glopast.Program{}, err
		}
		matches = append(matches, m)
	}
	if len(matches) == 0 {
		return glopast.Program{}, fmt.Errorf("glopparse: empty program")
	}
	return glopast.Program{Matches: matches}, nil
}

type parser struct {
	lex *lexer
	tok Token
}

func (p *parser) advance() error {
	t, err := p.lex.nextToken()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) expect(tt TokenType) (Token, error) {
	if p.tok.Type != tt {
		return Token{}, fmt.Errorf("glopparse: at %d: expected %s, got %s %q", p.tok.Pos, tt, p.tok.Type, p.tok.Value)
	}
	t := p.tok
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return t, nil
}

// parseMatch parses `when ( cond (, cond)* ) { action+ }`.
func (p *parser) parseMatch() (glopast.Match, error) {
	if _, err := p.expect(TokenWhen); err != nil {
		return glopast.Match{}, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return glopast.Match{}, err
	}

	var conds []glopast.Condition
	for {
		c, err := p.parseCondition()
		if err != nil {
			return glopast.Match{}, err
		}
		conds = append(conds, c)
		if p.tok.Type != TokenComma {
			break
		}
		if err := p.advance(); err != nil {
			return glopast.Match{}, err
		}
	}
	if len(conds) == 0 {
		return glopast.Match{}, fmt.Errorf("glopparse: at %d: a when clause needs at least one condition", p.tok.Pos)
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return glopast.Match{}, err
	}
	if _, err := p.expect(TokenLBrace); err != nil {
		return glopast.Match{}, err
	}

	var actions []glopast.Action
	for p.tok.Type != TokenRBrace {
		a, err := p.parseAction()
		if err != nil {
			return glopast.Match{}, err
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return glopast.Match{}, fmt.Errorf("glopparse: at %d: a when block needs at least one action", p.tok.Pos)
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return glopast.Match{}, err
	}
	return glopast.Match{Conditions: conds, Actions: actions}, nil
}

func (p *parser) parseCondition() (glopast.Condition, error) {
	switch p.tok.Type {
	case TokenMessage:
		if err := p.advance(); err != nil {
			return glopast.Condition{}, err
		}
		topic, err := p.expect(TokenIdent)
		if err != nil {
			return glopast.Condition{}, err
		}
		return glopast.Message(topic.Value), nil
	case TokenIsSet:
		if err := p.advance(); err != nil {
			return glopast.Condition{}, err
		}
		id, err := p.parseIdentifier()
		if err != nil {
			return glopast.Condition{}, err
		}
		return glopast.IsSet(id), nil
	case TokenIdent:
		id, err := p.parseIdentifier()
		if err != nil {
			return glopast.Condition{}, err
		}
		var op glopast.CmpOp
		switch p.tok.Type {
		case TokenEquals:
			op = glopast.CmpEq
		case TokenNotEquals:
			op = glopast.CmpNotEq
		default:
			return glopast.Condition{}, fmt.Errorf("glopparse: at %d: expected '==' or '!=', got %s", p.tok.Pos, p.tok.Type)
		}
		if err := p.advance(); err != nil {
			return glopast.Condition{}, err
		}
		rhs, err := p.parseValue()
		if err != nil {
			return glopast.Condition{}, err
		}
		return glopast.Cmp(id, op, rhs), nil
	default:
		return glopast.Condition{}, fmt.Errorf("glopparse: at %d: expected a condition, got %s", p.tok.Pos, p.tok.Type)
	}
}

func (p *parser) parseAction() (glopast.Action, error) {
	switch p.tok.Type {
	case TokenSet:
		if err := p.advance(); err != nil {
			return glopast.Action{}, err
		}
		id, err := p.parseIdentifier()
		if err != nil {
			return glopast.Action{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return glopast.Action{}, err
		}
		if _, err := p.expect(TokenSemi); err != nil {
			return glopast.Action{}, err
		}
		return glopast.SetVar(id, val), nil
	case TokenUnset:
		if err := p.advance(); err != nil {
			return glopast.Action{}, err
		}
		id, err := p.parseIdentifier()
		if err != nil {
			return glopast.Action{}, err
		}
		if _, err := p.expect(TokenSemi); err != nil {
			return glopast.Action{}, err
		}
		return glopast.UnsetVar(id), nil
	case TokenAcknowledge:
		if err := p.advance(); err != nil {
			return glopast.Action{}, err
		}
		topic, err := p.expect(TokenIdent)
		if err != nil {
			return glopast.Action{}, err
		}
		if _, err := p.expect(TokenSemi); err != nil {
			return glopast.Action{}, err
		}
		return glopast.Acknowledge(topic.Value), nil
	case TokenScript:
		shebang, body, err := p.lex.readScript()
		if err != nil {
			return glopast.Action{}, err
		}
		if err := p.advance(); err != nil {
			return glopast.Action{}, err
		}
		return glopast.Script(shebang, body), nil
	default:
		return glopast.Action{}, fmt.Errorf("glopparse: at %d: expected an action, got %s", p.tok.Pos, p.tok.Type)
	}
}

// parseIdentifier parses a dotted path: foo, foo.bar, foo.bar.baz.
func (p *parser) parseIdentifier() (glopvalue.Identifier, error) {
	first, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	parts := []string{first.Value}
	for p.tok.Type == TokenDot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		seg, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		parts = append(parts, seg.Value)
	}
	return glopvalue.ParseIdentifier(strings.Join(parts, ".")), nil
}

// parseValue parses a literal: a quoted string, an integer, or a bare
// word (treated as a string — glop has no boolean kind, see
// glopvalue.Value's doc).
func (p *parser) parseValue() (glopvalue.Value, error) {
	switch p.tok.Type {
	case TokenString:
		v := glopvalue.String(p.tok.Value)
		return v, p.advance()
	case TokenNumber:
		n, err := strconv.ParseInt(p.tok.Value, 10, 32)
		if err != nil {
			return glopvalue.Value{}, fmt.Errorf("glopparse: at %d: invalid integer %q: %w", p.tok.Pos, p.tok.Value, err)
		}
		v := glopvalue.Int32(int32(n))
		return v, p.advance()
	case TokenIdent, TokenWhen, TokenMessage, TokenIsSet, TokenSet, TokenUnset, TokenAcknowledge, TokenScript:
		v := glopvalue.String(p.tok.Value)
		return v, p.advance()
	default:
		return glopvalue.Value{}, fmt.Errorf("glopparse: at %d: expected a value, got %s", p.tok.Pos, p.tok.Type)
	}
}
