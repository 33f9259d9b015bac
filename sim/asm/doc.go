// Package asm assembles user applications for the simulated hart.
//
// A source file is a sequence of lines of the form
//
//	label: mnemonic operand, operand   # comment
//
// Operands are registers (x0..x31 or ABI names), integers (decimal or 0x
// hex, optionally negative), labels, or double quoted strings. Every
// instruction encodes to 16 bytes. Besides the base instructions (li, la,
// mv, add, sub, addi, ld, sd, lw, sw, j, beqz, bnez, bltz, ecall) the
// assembler expands system call macros: yield, exit, getpid, fork, exec,
// spawn, wait, setprio, mmap, munmap, taskinfo, time and print. String
// operands are placed in a pool after the data and passed by address.
//
// Data directives are .asciz, .space and .dword.
package asm
