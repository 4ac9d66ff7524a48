package compiler

import (
	"fmt"
)

// FunctionType distinguishes the kind of function currently being compiled,
// which controls what implicit "return" means and whether slot 0 is named.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeInitializer
	TypeMethod
	TypeScript
)

const maxLocals = 256
const maxUpvalues = 256
const maxConstants = 256

// Local is a stack-resident variable known to the compiler. Depth -1 means
// "declared but not yet initialized" (its own initializer is still being
// compiled); namedVariable reports an error if it resolves to a local in
// this state.
type Local struct {
	Name       string
	Depth      int
	IsCaptured bool
}

// Upvalue records how a function captures a variable from an enclosing
// function: either directly from that function's locals (IsLocal) or by
// forwarding that function's own upvalue of the same name.
type Upvalue struct {
	Index   byte
	IsLocal bool
}

// funcState is one stacked function-compilation context. A child points to
// its enclosing state via Enclosing, forming the chain that local/upvalue
// resolution walks.
type funcState struct {
	Enclosing *funcState

	Proto *FunctionProto
	Type  FunctionType

	Locals     []Local
	ScopeDepth int
}

// classState is one stacked class-compilation context, tracking only what
// the compiler needs to validate `super` usage.
type classState struct {
	Enclosing     *classState
	HasSuperclass bool
}

// Compiler drives single-pass compilation: it owns the scanner, the current
// and previous tokens, and the stack of function/class compilation
// contexts. There is no separate AST: compileXxx methods emit bytecode as
// they recognize grammar productions.
type Compiler struct {
	scanner *scanner

	current  Token
	previous Token

	hadError  bool
	panicMode bool
	errors    []string

	fn    *funcState
	class *classState
}

// CompileError is returned when compilation records one or more errors; the
// messages are formatted "[line N] Error at 'lexeme': message" (" at end"
// at end of input, no location for lexical errors) as spec.md §4.1 and §7
// describe.
type CompileError struct {
	Messages []string
}

func (e *CompileError) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	s := fmt.Sprintf("%d compile errors:", len(e.Messages))
	for _, m := range e.Messages {
		s += "\n  " + m
	}
	return s
}

// Compile compiles source into a top-level script FunctionProto with arity 0
// and one implicit local at slot 0. It returns a *CompileError if any
// compile error was recorded, matching spec.md's COMPILE_ERROR outcome.
func Compile(source string) (*FunctionProto, error) {
	c := &Compiler{scanner: newScanner(source)}
	c.fn = &funcState{
		Proto: &FunctionProto{Name: ""},
		Type:  TypeScript,
	}
	// slot 0 is reserved for the callee/receiver even in script/function
	// contexts; it is simply unnamed outside methods.
	c.fn.Locals = append(c.fn.Locals, Local{Name: "", Depth: 0})

	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	c.emitReturn()

	if c.hadError {
		return nil, &CompileError{Messages: c.errors}
	}
	return c.fn.Proto, nil
}

// ---- token stream helpers ----

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.scanToken()
		if c.current.Type != TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(t TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *Compiler) errorAt(tok Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	where := ""
	switch tok.Type {
	case TokenEOF:
		where = " at end"
	case TokenError:
		// lexical error, message is already descriptive
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}
	c.errors = append(c.errors, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, msg))
	c.hadError = true
}

// synchronize discards tokens until it reaches a statement boundary or a
// declaration keyword, implementing the panic-mode recovery of spec.md
// §4.1.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf, TokenWhile, TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- bytecode emission ----

func (c *Compiler) chunk() *Chunk { return &c.fn.Proto.Chunk }

func (c *Compiler) emitByte(b byte)   { c.chunk().Write(b, c.previous.Line) }
func (c *Compiler) emitOp(op OpCode)  { c.chunk().WriteOp(op, c.previous.Line) }
func (c *Compiler) emitOpByte(op OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitReturn() {
	if c.fn.Type == TypeInitializer {
		c.emitOpByte(OpLocalGet, 0)
	} else {
		c.emitOp(OpNil)
	}
	c.emitOp(OpReturn)
}

func (c *Compiler) makeConstant(v interface{}) byte {
	if len(c.chunk().Constants) >= maxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(c.chunk().AddConstant(v))
}

func (c *Compiler) emitConstant(v interface{}) {
	c.emitOpByte(OpConstant, c.makeConstant(v))
}

// emitJump writes a two-byte placeholder offset for a forward jump and
// returns the offset of the first placeholder byte, to be patched later.
func (c *Compiler) emitJump(op OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.chunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.chunk().Code) - offset - 2
	if jump > 65535 {
		c.error("Too much code to jump over.")
	}
	c.chunk().Code[offset] = byte(jump>>8) & 0xff
	c.chunk().Code[offset+1] = byte(jump) & 0xff
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(OpLoop)
	offset := len(c.chunk().Code) - loopStart + 2
	if offset > 65535 {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset>>8) & 0xff)
	c.emitByte(byte(offset) & 0xff)
}

// ---- scope, locals, upvalues, globals ----

func (c *Compiler) beginScope() { c.fn.ScopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.ScopeDepth--
	for len(c.fn.Locals) > 0 && c.fn.Locals[len(c.fn.Locals)-1].Depth > c.fn.ScopeDepth {
		last := c.fn.Locals[len(c.fn.Locals)-1]
		if last.IsCaptured {
			c.emitOp(OpUpvalueClose)
		} else {
			c.emitOp(OpPop)
		}
		c.fn.Locals = c.fn.Locals[:len(c.fn.Locals)-1]
	}
}

func identifierConstant(c *Compiler, name string) byte { return c.makeConstant(name) }

// declareVariable registers `name` as a new local in the current scope (a
// no-op at scope depth 0, where the variable is global). Redeclaring the
// same name in the same scope is an error.
func (c *Compiler) declareVariable(name string) {
	if c.fn.ScopeDepth == 0 {
		return
	}
	for i := len(c.fn.Locals) - 1; i >= 0; i-- {
		local := c.fn.Locals[i]
		if local.Depth != -1 && local.Depth < c.fn.ScopeDepth {
			break
		}
		if local.Name == name {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) addLocal(name string) {
	if len(c.fn.Locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fn.Locals = append(c.fn.Locals, Local{Name: name, Depth: -1})
}

func (c *Compiler) markInitialized() {
	if c.fn.ScopeDepth == 0 {
		return
	}
	c.fn.Locals[len(c.fn.Locals)-1].Depth = c.fn.ScopeDepth
}

// parseVariable consumes an identifier, declares it, and returns the global
// name constant index to use with defineVariable (0 if it ended up local).
func (c *Compiler) parseVariable(errMsg string) byte {
	c.consume(TokenIdentifier, errMsg)
	name := c.previous.Lexeme
	c.declareVariable(name)
	if c.fn.ScopeDepth > 0 {
		return 0
	}
	return identifierConstant(c, name)
}

func (c *Compiler) defineVariable(global byte) {
	if c.fn.ScopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(OpGlobalDefine, global)
}

// resolveLocal scans fn's locals top to bottom for the first name match.
func resolveLocal(fn *funcState, name string) int {
	for i := len(fn.Locals) - 1; i >= 0; i-- {
		if fn.Locals[i].Name == name {
			return i
		}
	}
	return -1
}

// resolveUpvalue recursively resolves `name` against the enclosing function
// chain, adding upvalue entries as needed and marking captured locals along
// the way.
func resolveUpvalue(fn *funcState, name string) int {
	if fn.Enclosing == nil {
		return -1
	}
	if local := resolveLocal(fn.Enclosing, name); local != -1 {
		fn.Enclosing.Locals[local].IsCaptured = true
		return addUpvalue(fn, byte(local), true)
	}
	if upvalue := resolveUpvalue(fn.Enclosing, name); upvalue != -1 {
		return addUpvalue(fn, byte(upvalue), false)
	}
	return -1
}

func addUpvalue(fn *funcState, index byte, isLocal bool) int {
	for i, uv := range fn.Proto.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(fn.Proto.Upvalues) >= maxUpvalues {
		return 0
	}
	fn.Proto.Upvalues = append(fn.Proto.Upvalues, UpvalueInfo{IsLocal: isLocal, Index: index})
	fn.Proto.UpvalueCount = len(fn.Proto.Upvalues)
	return fn.Proto.UpvalueCount - 1
}

// ---- declarations and statements ----

func (c *Compiler) declaration() {
	switch {
	case c.match(TokenClass):
		c.classDeclaration()
	case c.match(TokenFun):
		c.funDeclaration()
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

// function compiles a function body (parameters + block) into a nested
// funcState, then emits a CLOSURE instruction in the enclosing chunk that
// captures whatever upvalues the nested function resolved.
func (c *Compiler) function(ftype FunctionType) {
	name := c.previous.Lexeme
	enclosing := c.fn
	c.fn = &funcState{
		Enclosing: enclosing,
		Proto:     &FunctionProto{Name: name, IsInitializer: ftype == TypeInitializer},
		Type:      ftype,
	}
	// slot 0: unnamed for plain functions, "this" for methods/initializers.
	if ftype == TypeMethod || ftype == TypeInitializer {
		c.fn.Locals = append(c.fn.Locals, Local{Name: "this", Depth: 0})
	} else {
		c.fn.Locals = append(c.fn.Locals, Local{Name: "", Depth: 0})
	}

	c.beginScope()
	c.consume(TokenLeftParen, "Expect '(' after function name.")
	if !c.check(TokenRightParen) {
		for {
			c.fn.Proto.Arity++
			if c.fn.Proto.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			paramConst := c.parseVariable("Expect parameter name.")
			c.defineVariable(paramConst)
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightParen, "Expect ')' after parameters.")
	c.consume(TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	c.emitReturn()
	proto := c.fn.Proto
	c.fn = enclosing

	idx := c.makeConstant(proto)
	c.emitOpByte(OpClosure, idx)
	for _, uv := range proto.Upvalues {
		if uv.IsLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.Index)
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(TokenIdentifier, "Expect class name.")
	className := c.previous.Lexeme
	nameConstant := identifierConstant(c, className)
	c.declareVariable(className)

	c.emitOpByte(OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{Enclosing: c.class}
	c.class = cs

	if c.match(TokenLess) {
		c.consume(TokenIdentifier, "Expect superclass name.")
		superName := c.previous.Lexeme
		if superName == className {
			c.error("A class can't inherit from itself.")
		}
		c.namedVariable(superName, false) // push superclass

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false) // push subclass
		c.emitOp(OpInherit)
		cs.HasSuperclass = true
	}

	c.namedVariable(className, false) // push class to attach methods to
	c.consume(TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.method()
	}
	c.consume(TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(OpPop) // class value

	if cs.HasSuperclass {
		c.endScope()
	}
	c.class = cs.Enclosing
}

func (c *Compiler) method() {
	c.consume(TokenIdentifier, "Expect method name.")
	name := c.previous.Lexeme
	nameConstant := identifierConstant(c, name)

	ftype := TypeMethod
	if name == "init" {
		ftype = TypeInitializer
	}
	c.function(ftype)
	c.emitOpByte(OpMethod, nameConstant)
}

func (c *Compiler) statement() {
	switch {
	case c.match(TokenIf):
		c.ifStatement()
	case c.match(TokenWhile):
		c.whileStatement()
	case c.match(TokenFor):
		c.forStatement()
	case c.match(TokenReturn):
		c.returnStatement()
	case c.match(TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.declaration()
	}
	c.consume(TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()

	elseJump := c.emitJump(OpJump)
	c.patchJump(thenJump)
	c.emitOp(OpPop)

	if c.match(TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.chunk().Code)
	c.consume(TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(OpJumpIfFalse)
	c.emitOp(OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(TokenSemicolon):
		// no initializer
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.chunk().Code)
	exitJump := -1
	if !c.match(TokenSemicolon) {
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(OpJumpIfFalse)
		c.emitOp(OpPop)
	}

	if !c.match(TokenRightParen) {
		bodyJump := c.emitJump(OpJump)
		incrementStart := len(c.chunk().Code)
		c.expression()
		c.emitOp(OpPop)
		c.consume(TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(OpPop)
	}
	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.fn.Type == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fn.Type == TypeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(OpReturn)
}
