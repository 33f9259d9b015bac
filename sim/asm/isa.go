package asm

import (
	"encoding/binary"
	"strconv"
)

// InstructionSize is the encoded size of every instruction.
const InstructionSize = 16

// Op is an instruction opcode. The zero value is illegal so that executing
// zeroed memory traps.
type Op uint32

const (
	OpIllegal Op = iota
	OpNop
	OpLi   // rd, imm
	OpMv   // rd, rs
	OpAdd  // rd, rs1, rs2
	OpSub  // rd, rs1, rs2
	OpAddi // rd, rs, imm
	OpLd   // rd, rs, offset
	OpSd   // rs2, rs1, offset
	OpLw   // rd, rs, offset
	OpSw   // rs2, rs1, offset
	OpJ    // target
	OpBeqz // rs, target
	OpBnez // rs, target
	OpBltz // rs, target
	OpEcall
	opCount
)

var opNames = [...]string{
	OpIllegal: "illegal",
	OpNop:     "nop",
	OpLi:      "li",
	OpMv:      "mv",
	OpAdd:     "add",
	OpSub:     "sub",
	OpAddi:    "addi",
	OpLd:      "ld",
	OpSd:      "sd",
	OpLw:      "lw",
	OpSw:      "sw",
	OpJ:       "j",
	OpBeqz:    "beqz",
	OpBnez:    "bnez",
	OpBltz:    "bltz",
	OpEcall:   "ecall",
}

// Valid reports whether op is a known, non-illegal opcode.
func (o Op) Valid() bool {
	return o > OpIllegal && o < opCount
}

func (o Op) String() string {
	if o < opCount {
		return opNames[o]
	}
	return "illegal"
}

// Instruction is a decoded instruction with up to three operands.
type Instruction struct {
	Op Op
	A  int32
	B  int32
	C  int32
}

// Encode writes the little-endian encoding of i into dst.
func (i Instruction) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(i.Op))
	binary.LittleEndian.PutUint32(dst[4:], uint32(i.A))
	binary.LittleEndian.PutUint32(dst[8:], uint32(i.B))
	binary.LittleEndian.PutUint32(dst[12:], uint32(i.C))
}

// Decode reads an instruction from src.
func Decode(src []byte) Instruction {
	return Instruction{
		Op: Op(binary.LittleEndian.Uint32(src[0:])),
		A:  int32(binary.LittleEndian.Uint32(src[4:])),
		B:  int32(binary.LittleEndian.Uint32(src[8:])),
		C:  int32(binary.LittleEndian.Uint32(src[12:])),
	}
}

var registers = map[string]int32{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7,
	"s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25, "s10": 26, "s11": 27,
	"t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

func init() {
	for i := 0; i < 32; i++ {
		registers["x"+strconv.Itoa(i)] = int32(i)
	}
}

// Register returns the index of a register named by number (x0..x31) or by
// its ABI name.
func Register(name string) (int32, bool) {
	ret, ok := registers[name]
	return ret, ok
}
