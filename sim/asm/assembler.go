package asm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/viant/ktask/abi"
	"github.com/viant/ktask/sim/mem"
)

// EntryLabel marks the first instruction to execute; without it execution
// starts at the beginning of the image.
const EntryLabel = "_start"

const dataAlign = 8

// Program is an assembled application.
type Program struct {
	// Entry is the entry offset within Body.
	Entry uint32
	Body  []byte
	// Symbols maps labels to absolute virtual addresses.
	Symbols map[string]uint64
}

// Image returns the loadable image of the program.
func (p *Program) Image() []byte {
	return mem.BuildImage(p.Entry, p.Body)
}

// AssembleImage assembles source and returns its loadable image.
func AssembleImage(source []byte) ([]byte, error) {
	program, err := Assemble(source)
	if err != nil {
		return nil, err
	}
	return program.Image(), nil
}

type assembler struct {
	code    []*statement
	data    []*statement
	pool    []string
	symbols map[string]uint64
	offsets map[*statement]uint64
	labels  map[string]int
}

// Assemble translates source into a program. Code is laid out in source
// order from the image base; data directives and string literals follow the
// code, each aligned to 8 bytes.
func Assemble(source []byte) (*Program, error) {
	a := &assembler{symbols: map[string]uint64{}, offsets: map[*statement]uint64{}, labels: map[string]int{}}
	if err := a.parse(source); err != nil {
		return nil, err
	}
	if err := a.layout(); err != nil {
		return nil, err
	}
	return a.emit()
}

func (a *assembler) parse(source []byte) error {
	var pending []string
	for i, line := range bytes.Split(source, []byte("\n")) {
		stmt, err := parseLine(i+1, bytes.TrimRight(line, "\r"))
		if err != nil {
			return err
		}
		for _, label := range stmt.labels {
			if prev, ok := a.labels[label]; ok {
				return stmt.errorf("label %q already defined at line %d", label, prev)
			}
			a.labels[label] = stmt.line
		}
		if stmt.mnemonic == "" {
			pending = append(pending, stmt.labels...)
			continue
		}
		stmt.labels = append(pending, stmt.labels...)
		pending = nil
		for j := range stmt.operands {
			if stmt.operands[j].kind == stringOperand {
				stmt.operands[j].pool = len(a.pool)
				a.pool = append(a.pool, stmt.operands[j].text)
			}
		}
		if isDirective(stmt.mnemonic) {
			a.data = append(a.data, stmt)
		} else {
			a.code = append(a.code, stmt)
		}
	}
	if len(pending) > 0 {
		// trailing labels mark the end of the data
		a.data = append(a.data, &statement{labels: pending, mnemonic: ".space", operands: []operand{{kind: integerOperand}}})
	}
	return nil
}

func (a *assembler) layout() error {
	var offset uint64
	for _, stmt := range a.code {
		instructions, err := a.expand(stmt, false)
		if err != nil {
			return err
		}
		a.bind(stmt, offset)
		offset += uint64(len(instructions) * InstructionSize)
	}
	for _, stmt := range a.data {
		offset = align(offset)
		size, err := dataSize(stmt)
		if err != nil {
			return err
		}
		a.bind(stmt, offset)
		offset += size
	}
	for i, text := range a.pool {
		offset = align(offset)
		a.symbols[poolSymbol(i)] = mem.LoadBase + offset
		offset += uint64(len(text) + 1)
	}
	return nil
}

func (a *assembler) bind(stmt *statement, offset uint64) {
	a.offsets[stmt] = offset
	for _, label := range stmt.labels {
		a.symbols[label] = mem.LoadBase + offset
	}
}

func (a *assembler) emit() (*Program, error) {
	var body []byte
	for _, stmt := range a.code {
		instructions, err := a.expand(stmt, true)
		if err != nil {
			return nil, err
		}
		for _, instruction := range instructions {
			encoded := make([]byte, InstructionSize)
			instruction.Encode(encoded)
			body = append(body, encoded...)
		}
	}
	for _, stmt := range a.data {
		body = pad(body, a.offsets[stmt])
		value, err := a.dataBytes(stmt)
		if err != nil {
			return nil, err
		}
		body = append(body, value...)
	}
	for i, text := range a.pool {
		body = pad(body, a.symbols[poolSymbol(i)]-mem.LoadBase)
		body = append(body, text...)
		body = append(body, 0)
	}
	ret := &Program{Body: body, Symbols: map[string]uint64{}}
	for label, addr := range a.symbols {
		if label != "" && label[0] != '"' {
			ret.Symbols[label] = addr
		}
	}
	if entry, ok := a.symbols[EntryLabel]; ok {
		ret.Entry = uint32(entry - mem.LoadBase)
	}
	return ret, nil
}

// value resolves an immediate operand; unresolved symbols are an error only
// when resolve is set.
func (a *assembler) value(stmt *statement, op operand, resolve bool) (int32, error) {
	var ret int64
	switch op.kind {
	case integerOperand:
		ret = op.value
	case stringOperand:
		ret = int64(a.symbols[poolSymbol(op.pool)])
	case symbolOperand:
		if !resolve {
			return 0, nil
		}
		addr, ok := a.symbols[op.text]
		if !ok {
			return 0, stmt.errorf("undefined symbol %q", op.text)
		}
		ret = int64(addr)
	default:
		return 0, stmt.errorf("immediate expected, got register %s", op.text)
	}
	if ret < math.MinInt32 || ret > math.MaxInt32 {
		return 0, stmt.errorf("immediate %d out of range", ret)
	}
	return int32(ret), nil
}

func (a *assembler) expand(stmt *statement, resolve bool) ([]Instruction, error) {
	ops := stmt.operands
	reg := func(i int) (int32, error) {
		if ops[i].kind != registerOperand {
			return 0, stmt.errorf("operand %d: register expected, got %s", i+1, ops[i].kind)
		}
		return ops[i].reg, nil
	}
	imm := func(i int) (int32, error) {
		return a.value(stmt, ops[i], resolve)
	}
	// load sets rd from a register or an immediate operand.
	load := func(rd int32, i int) (Instruction, error) {
		if ops[i].kind == registerOperand {
			return Instruction{Op: OpMv, A: rd, B: ops[i].reg}, nil
		}
		v, err := imm(i)
		return Instruction{Op: OpLi, A: rd, B: v}, err
	}
	syscall := func(id uint64, args ...int) ([]Instruction, error) {
		var ret []Instruction
		for i, arg := range args {
			instruction, err := load(regA0+int32(i), arg)
			if err != nil {
				return nil, err
			}
			ret = append(ret, instruction)
		}
		return append(ret, Instruction{Op: OpLi, A: regA7, B: int32(id)}, Instruction{Op: OpEcall}), nil
	}

	switch stmt.mnemonic {
	case "nop", "ecall":
		if err := arity(stmt, 0); err != nil {
			return nil, err
		}
		if stmt.mnemonic == "nop" {
			return []Instruction{{Op: OpNop}}, nil
		}
		return []Instruction{{Op: OpEcall}}, nil
	case "li", "la":
		if err := arity(stmt, 2); err != nil {
			return nil, err
		}
		rd, err := reg(0)
		if err != nil {
			return nil, err
		}
		v, err := imm(1)
		return []Instruction{{Op: OpLi, A: rd, B: v}}, err
	case "mv":
		return a.registers(stmt, OpMv, 2)
	case "add":
		return a.registers(stmt, OpAdd, 3)
	case "sub":
		return a.registers(stmt, OpSub, 3)
	case "addi", "ld", "sd", "lw", "sw":
		if err := arity(stmt, 3); err != nil {
			return nil, err
		}
		r1, err := reg(0)
		if err != nil {
			return nil, err
		}
		r2, err := reg(1)
		if err != nil {
			return nil, err
		}
		v, err := imm(2)
		op := map[string]Op{"addi": OpAddi, "ld": OpLd, "sd": OpSd, "lw": OpLw, "sw": OpSw}[stmt.mnemonic]
		return []Instruction{{Op: op, A: r1, B: r2, C: v}}, err
	case "j":
		if err := arity(stmt, 1); err != nil {
			return nil, err
		}
		v, err := imm(0)
		return []Instruction{{Op: OpJ, A: v}}, err
	case "beqz", "bnez", "bltz":
		if err := arity(stmt, 2); err != nil {
			return nil, err
		}
		rs, err := reg(0)
		if err != nil {
			return nil, err
		}
		v, err := imm(1)
		op := map[string]Op{"beqz": OpBeqz, "bnez": OpBnez, "bltz": OpBltz}[stmt.mnemonic]
		return []Instruction{{Op: op, A: rs, B: v}}, err
	case "yield":
		return syscallOf(stmt, 0, 0, func() ([]Instruction, error) { return syscall(abi.SysYield) })
	case "getpid":
		return syscallOf(stmt, 0, 0, func() ([]Instruction, error) { return syscall(abi.SysGetPid) })
	case "fork":
		return syscallOf(stmt, 0, 0, func() ([]Instruction, error) { return syscall(abi.SysFork) })
	case "exit":
		return syscallOf(stmt, 0, 1, func() ([]Instruction, error) { return syscall(abi.SysExit, indexes(len(ops))...) })
	case "exec":
		return syscallOf(stmt, 1, 1, func() ([]Instruction, error) { return syscall(abi.SysExec, 0) })
	case "spawn":
		return syscallOf(stmt, 1, 1, func() ([]Instruction, error) { return syscall(abi.SysSpawn, 0) })
	case "setprio":
		return syscallOf(stmt, 1, 1, func() ([]Instruction, error) { return syscall(abi.SysSetPriority, 0) })
	case "taskinfo":
		return syscallOf(stmt, 1, 1, func() ([]Instruction, error) { return syscall(abi.SysTaskInfo, 0) })
	case "time":
		return syscallOf(stmt, 1, 1, func() ([]Instruction, error) { return syscall(abi.SysGetTime, 0) })
	case "munmap":
		return syscallOf(stmt, 2, 2, func() ([]Instruction, error) { return syscall(abi.SysMunmap, 0, 1) })
	case "mmap":
		return syscallOf(stmt, 3, 3, func() ([]Instruction, error) { return syscall(abi.SysMmap, 0, 1, 2) })
	case "wait":
		// wait [pid [, status address]]; pid defaults to -1 (any child)
		if err := arityRange(stmt, 0, 2); err != nil {
			return nil, err
		}
		pid := Instruction{Op: OpLi, A: regA0, B: -1}
		status := Instruction{Op: OpLi, A: regA0 + 1}
		var err error
		if len(ops) > 0 {
			if pid, err = load(regA0, 0); err != nil {
				return nil, err
			}
		}
		if len(ops) > 1 {
			if status, err = load(regA0+1, 1); err != nil {
				return nil, err
			}
		}
		return []Instruction{pid, status, {Op: OpLi, A: regA7, B: int32(abi.SysWaitPid)}, {Op: OpEcall}}, nil
	case "print":
		if err := arity(stmt, 1); err != nil {
			return nil, err
		}
		if ops[0].kind != stringOperand {
			return nil, stmt.errorf("print expects a string literal")
		}
		addr, err := imm(0)
		if err != nil {
			return nil, err
		}
		return []Instruction{
			{Op: OpLi, A: regA0, B: stdout},
			{Op: OpLi, A: regA0 + 1, B: addr},
			{Op: OpLi, A: regA0 + 2, B: int32(len(ops[0].text))},
			{Op: OpLi, A: regA7, B: int32(abi.SysWrite)},
			{Op: OpEcall},
		}, nil
	}
	return nil, stmt.errorf("unknown instruction %q", stmt.mnemonic)
}

func (a *assembler) registers(stmt *statement, op Op, n int) ([]Instruction, error) {
	if err := arity(stmt, n); err != nil {
		return nil, err
	}
	var regs [3]int32
	for i := 0; i < n; i++ {
		if stmt.operands[i].kind != registerOperand {
			return nil, stmt.errorf("operand %d: register expected, got %s", i+1, stmt.operands[i].kind)
		}
		regs[i] = stmt.operands[i].reg
	}
	return []Instruction{{Op: op, A: regs[0], B: regs[1], C: regs[2]}}, nil
}

func (a *assembler) dataBytes(stmt *statement) ([]byte, error) {
	switch stmt.mnemonic {
	case ".asciz":
		return append([]byte(stmt.operands[0].text), 0), nil
	case ".space":
		return make([]byte, stmt.operands[0].value), nil
	default: // .dword
		v, err := a.value(stmt, stmt.operands[0], true)
		if err != nil {
			return nil, err
		}
		ret := make([]byte, 8)
		binary.LittleEndian.PutUint64(ret, uint64(int64(v)))
		return ret, nil
	}
}

func dataSize(stmt *statement) (uint64, error) {
	if err := arity(stmt, 1); err != nil {
		return 0, err
	}
	op := stmt.operands[0]
	switch stmt.mnemonic {
	case ".asciz":
		if op.kind != stringOperand {
			return 0, stmt.errorf(".asciz expects a string literal")
		}
		return uint64(len(op.text) + 1), nil
	case ".space":
		if op.kind != integerOperand || op.value < 0 {
			return 0, stmt.errorf(".space expects a non-negative size")
		}
		return uint64(op.value), nil
	default:
		if op.kind == registerOperand || op.kind == stringOperand {
			return 0, stmt.errorf(".dword expects an integer or a symbol")
		}
		return 8, nil
	}
}

const (
	regA0  = 10
	regA7  = 17
	stdout = 1
)

func isDirective(mnemonic string) bool {
	switch mnemonic {
	case ".asciz", ".space", ".dword":
		return true
	}
	return false
}

func syscallOf(stmt *statement, lo, hi int, build func() ([]Instruction, error)) ([]Instruction, error) {
	if err := arityRange(stmt, lo, hi); err != nil {
		return nil, err
	}
	return build()
}

func arity(stmt *statement, n int) error {
	return arityRange(stmt, n, n)
}

func arityRange(stmt *statement, lo, hi int) error {
	if n := len(stmt.operands); n < lo || n > hi {
		if lo == hi {
			return stmt.errorf("%s expects %d operand(s), got %d", stmt.mnemonic, lo, n)
		}
		return stmt.errorf("%s expects %d to %d operands, got %d", stmt.mnemonic, lo, hi, n)
	}
	return nil
}

func indexes(n int) []int {
	ret := make([]int, n)
	for i := range ret {
		ret[i] = i
	}
	return ret
}

func poolSymbol(i int) string {
	return fmt.Sprintf("\"%d", i)
}

func align(offset uint64) uint64 {
	return (offset + dataAlign - 1) &^ (dataAlign - 1)
}

func pad(body []byte, size uint64) []byte {
	for uint64(len(body)) < size {
		body = append(body, 0)
	}
	return body
}
