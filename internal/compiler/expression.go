package compiler

import "strconv"

// Precedence levels, lowest to highest. parsePrecedence consumes everything
// at the given level or tighter.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + - #
	PrecFactor                // * /
	PrecUnary                 // ! - not #
	PrecCall                  // . () []
	PrecPrimary
)

type parseFn func(c *Compiler, canAssign bool)

// ParseRule associates a token type with its prefix parser (when the token
// starts an expression), infix parser (when it follows one), and the
// precedence to use when deciding whether to keep consuming infix
// operators.
type ParseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

var rules map[TokenType]ParseRule

func init() {
	rules = map[TokenType]ParseRule{
		TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: PrecCall},
		TokenLeftBracket:  {prefix: (*Compiler).listLiteral, infix: (*Compiler).index, precedence: PrecCall},
		TokenLeftBrace:    {prefix: (*Compiler).tableLiteral, precedence: PrecNone},
		TokenDot:          {infix: (*Compiler).dot, precedence: PrecCall},
		TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: PrecTerm},
		TokenPlus:         {infix: (*Compiler).binary, precedence: PrecTerm},
		TokenSlash:        {infix: (*Compiler).binary, precedence: PrecFactor},
		TokenStar:         {infix: (*Compiler).binary, precedence: PrecFactor},
		TokenHash:         {prefix: (*Compiler).hashUnary, infix: (*Compiler).hashBinary, precedence: PrecTerm},
		TokenBang:         {prefix: (*Compiler).unary, precedence: PrecUnary},
		TokenNot:          {prefix: (*Compiler).unary, precedence: PrecUnary},
		TokenBangEqual:    {infix: (*Compiler).binary, precedence: PrecEquality},
		TokenEqualEqual:   {infix: (*Compiler).binary, precedence: PrecEquality},
		TokenGreater:      {infix: (*Compiler).binary, precedence: PrecComparison},
		TokenGreaterEqual: {infix: (*Compiler).binary, precedence: PrecComparison},
		TokenLess:         {infix: (*Compiler).binary, precedence: PrecComparison},
		TokenLessEqual:    {infix: (*Compiler).binary, precedence: PrecComparison},
		TokenIdentifier:   {prefix: (*Compiler).variable, precedence: PrecNone},
		TokenString:       {prefix: (*Compiler).stringLiteral, precedence: PrecNone},
		TokenNumber:       {prefix: (*Compiler).number, precedence: PrecNone},
		TokenAnd:          {infix: (*Compiler).and, precedence: PrecAnd},
		TokenOr:           {infix: (*Compiler).or, precedence: PrecOr},
		TokenFalse:        {prefix: (*Compiler).literal, precedence: PrecNone},
		TokenTrue:         {prefix: (*Compiler).literal, precedence: PrecNone},
		TokenNil:          {prefix: (*Compiler).literal, precedence: PrecNone},
		TokenSuper:        {prefix: (*Compiler).super, precedence: PrecNone},
		TokenThis:         {prefix: (*Compiler).this, precedence: PrecNone},
	}
}

func getRule(t TokenType) ParseRule { return rules[t] }

func (c *Compiler) expression() { c.parsePrecedence(PrecAssignment) }

func (c *Compiler) parsePrecedence(prec Precedence) {
	c.advance()
	prefixRule := getRule(c.previous.Type).prefix
	if prefixRule == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssignment
	prefixRule(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		infixRule := getRule(c.previous.Type).infix
		infixRule(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(canAssign bool) {
	v, err := strconv.ParseFloat(c.previous.Lexeme, 64)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(v)
}

func (c *Compiler) stringLiteral(canAssign bool) {
	lexeme := c.previous.Lexeme
	c.emitConstant(lexeme[1 : len(lexeme)-1])
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(OpFalse)
	case TokenTrue:
		c.emitOp(OpTrue)
	case TokenNil:
		c.emitOp(OpNil)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case TokenMinus:
		c.emitOp(OpNegate)
	case TokenBang, TokenNot:
		c.emitOp(OpNot)
	}
}

// hashUnary desugars `#expr` into a call to the global `str` function, the
// stringification form of the # operator.
func (c *Compiler) hashUnary(canAssign bool) {
	c.namedVariable("str", false)
	c.parsePrecedence(PrecUnary)
	c.emitOpByte(OpCall, 1)
}

// hashBinary desugars `a # b` into a call to the global `concat` function.
// The left operand is already on the stack from the Pratt loop, so the
// callee is pushed last and CALL_POSTFIX rotates it under the two
// arguments.
func (c *Compiler) hashBinary(canAssign bool) {
	c.parsePrecedence(PrecTerm + 1)
	c.namedVariable("concat", false)
	c.emitOpByte(OpCallPostfix, 2)
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	rule := getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case TokenBangEqual:
		c.emitOp(OpEqual)
		c.emitOp(OpNot)
	case TokenEqualEqual:
		c.emitOp(OpEqual)
	case TokenGreater:
		c.emitOp(OpGreater)
	case TokenGreaterEqual:
		c.emitOp(OpLess)
		c.emitOp(OpNot)
	case TokenLess:
		c.emitOp(OpLess)
	case TokenLessEqual:
		c.emitOp(OpGreater)
		c.emitOp(OpNot)
	case TokenPlus:
		c.emitOp(OpAdd)
	case TokenMinus:
		c.emitOp(OpSubtract)
	case TokenStar:
		c.emitOp(OpMultiply)
	case TokenSlash:
		c.emitOp(OpDivide)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(OpJumpIfFalse)
	endJump := c.emitJump(OpJump)
	c.patchJump(elseJump)
	c.emitOp(OpPop)
	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argc := c.argumentList(TokenRightParen)
	c.emitOpByte(OpCall, argc)
}

func (c *Compiler) argumentList(closing TokenType) byte {
	var argc int
	if !c.check(closing) {
		for {
			c.expression()
			if argc == 255 {
				c.error("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(closing, "Expect ')' after arguments.")
	return byte(argc)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(TokenIdentifier, "Expect property name after '.'.")
	name := identifierConstant(c, c.previous.Lexeme)

	switch {
	case c.match(TokenLeftParen):
		argc := c.argumentList(TokenRightParen)
		c.emitOp(OpInvoke)
		c.emitByte(name)
		c.emitByte(argc)
	case canAssign && c.match(TokenEqual):
		c.expression()
		c.emitOpByte(OpPropertySet, name)
	default:
		c.emitOpByte(OpPropertyGet, name)
	}
}

// index desugars `a[i]` to a.getAt(i) and `a[i] = v` to a.setAt(i, v), both
// compiled as fast-path method invocations with the receiver already on the
// stack from the Pratt loop.
func (c *Compiler) index(canAssign bool) {
	c.expression()
	c.consume(TokenRightBracket, "Expect ']' after index.")

	if canAssign && c.match(TokenEqual) {
		c.expression()
		name := identifierConstant(c, "setAt")
		c.emitOp(OpInvoke)
		c.emitByte(name)
		c.emitByte(2)
		return
	}
	name := identifierConstant(c, "getAt")
	c.emitOp(OpInvoke)
	c.emitByte(name)
	c.emitByte(1)
}

func (c *Compiler) listLiteral(canAssign bool) {
	var count int
	if !c.check(TokenRightBracket) {
		for {
			c.expression()
			if count == 255 {
				c.error("Can't have more than 255 elements in a list literal.")
			}
			count++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightBracket, "Expect ']' after list literal.")
	c.emitOpByte(OpCollectionList, byte(count))
}

func (c *Compiler) tableLiteral(canAssign bool) {
	var count int
	if !c.check(TokenRightBrace) {
		for {
			c.expression()
			c.consume(TokenColon, "Expect ':' after table key.")
			c.expression()
			if count == 255 {
				c.error("Can't have more than 255 entries in a table literal.")
			}
			count++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightBrace, "Expect '}' after table literal.")
	c.emitOpByte(OpCollectionTable, byte(count))
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Lexeme, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp OpCode
	var arg byte

	if local := resolveLocal(c.fn, name); local != -1 {
		if c.fn.Locals[local].Depth == -1 {
			c.error("Can't read local variable in its own initializer.")
		}
		getOp, setOp, arg = OpLocalGet, OpLocalSet, byte(local)
	} else if upvalue := resolveUpvalue(c.fn, name); upvalue != -1 {
		getOp, setOp, arg = OpUpvalueGet, OpUpvalueSet, byte(upvalue)
	} else {
		getOp, setOp, arg = OpGlobalGet, OpGlobalSet, identifierConstant(c, name)
	}

	if canAssign && c.match(TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, arg)
	} else {
		c.emitOpByte(getOp, arg)
	}
}

func (c *Compiler) this(canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.namedVariable("this", false)
}

func (c *Compiler) super(canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.HasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(TokenDot, "Expect '.' after 'super'.")
	c.consume(TokenIdentifier, "Expect superclass method name.")
	name := identifierConstant(c, c.previous.Lexeme)

	c.namedVariable("this", false)
	if c.match(TokenLeftParen) {
		argc := c.argumentList(TokenRightParen)
		c.namedVariable("super", false)
		c.emitOp(OpInvokeSuper)
		c.emitByte(name)
		c.emitByte(argc)
		return
	}
	c.namedVariable("super", false)
	c.emitOpByte(OpSuperGet, name)
}
