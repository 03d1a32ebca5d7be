// Package isa decodes and encodes RV64I instruction words. Every
// instruction, regardless of its wire format (R/I/S/B/U/J), is represented
// by the same tagged Instruction struct and dispatched through a single
// switch in internal/vm — never an interface or a per-opcode type, so that
// adding an instruction never touches more than this package and the one
// switch that executes it.
package isa

import (
	"github.com/dm-devel/dmunit/internal/dmerr"
	"github.com/dm-devel/dmunit/internal/guest"
)

// Reg is a RISC-V integer register number, 0-31.
type Reg uint8

// RV64I ABI register names, per the calling convention spec.md's A0..A5
// and SP/RA/zero names are drawn from.
const (
	Zero Reg = iota
	RA
	SP
	GP
	TP
	T0
	T1
	T2
	S0 // also known as FP
	S1
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	T3
	T4
	T5
	T6
)

// Op names the decoded instruction. Only the RV64I subset spec.md's
// synthetic guest code needs is implemented; decoding an unsupported word
// returns dmerr.DecodeError rather than silently misinterpreting it.
type Op int

const (
	OpInvalid Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLD
	OpLBU
	OpLHU
	OpLWU
	OpSB
	OpSH
	OpSW
	OpSD
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpECALL
	OpEBREAK
)

var opNames = map[Op]string{
	OpInvalid: "invalid",
	OpLUI:     "lui", OpAUIPC: "auipc",
	OpJAL: "jal", OpJALR: "jalr",
	OpBEQ: "beq", OpBNE: "bne", OpBLT: "blt", OpBGE: "bge", OpBLTU: "bltu", OpBGEU: "bgeu",
	OpLB: "lb", OpLH: "lh", OpLW: "lw", OpLD: "ld", OpLBU: "lbu", OpLHU: "lhu", OpLWU: "lwu",
	OpSB: "sb", OpSH: "sh", OpSW: "sw", OpSD: "sd",
	OpADDI: "addi", OpSLTI: "slti", OpSLTIU: "sltiu", OpXORI: "xori", OpORI: "ori", OpANDI: "andi",
	OpSLLI: "slli", OpSRLI: "srli", OpSRAI: "srai",
	OpADD: "add", OpSUB: "sub", OpSLL: "sll", OpSLT: "slt", OpSLTU: "sltu",
	OpXOR: "xor", OpSRL: "srl", OpSRA: "sra", OpOR: "or", OpAND: "and",
	OpECALL: "ecall", OpEBREAK: "ebreak",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return "unknown"
}

// Instruction is the single tagged representation of every decoded
// instruction. Fields unused by a given Op are left zero.
type Instruction struct {
	Op       Op
	Rd       Reg
	Rs1      Reg
	Rs2      Reg
	Imm      int64
	Raw      uint32
	Compact  bool // reserved for a future 16-bit C-extension; always false here
}

const (
	opcodeLoad    = 0x03
	opcodeMiscMem = 0x0F
	opcodeOpImm   = 0x13
	opcodeAUIPC   = 0x17
	opcodeStore   = 0x23
	opcodeOp      = 0x33
	opcodeLUI     = 0x37
	opcodeBranch  = 0x63
	opcodeJALR    = 0x67
	opcodeJAL     = 0x6F
	opcodeSystem  = 0x73
)

func bits(word uint32, hi, lo uint) uint32 {
	return (word >> lo) & ((1 << (hi - lo + 1)) - 1)
}

func signExtend(v uint32, bit uint) int64 {
	shift := 31 - bit
	return int64(int32(v<<shift)) >> shift
}

// Decode interprets a 32-bit little-endian instruction word fetched from
// pc. It is a pure function: identical input always yields an identical
// Instruction, with no VM or memory side effects (decode purity).
func Decode(word uint32, pc guest.Addr) (Instruction, error) {
	opcode := bits(word, 6, 0)
	rd := Reg(bits(word, 11, 7))
	funct3 := bits(word, 14, 12)
	rs1 := Reg(bits(word, 19, 15))
	rs2 := Reg(bits(word, 24, 20))
	funct7 := bits(word, 31, 25)

	in := Instruction{Raw: word, Rd: rd, Rs1: rs1, Rs2: rs2}

	switch opcode {
	case opcodeLUI:
		in.Op = OpLUI
		in.Imm = int64(int32(word & 0xFFFFF000))
		return in, nil

	case opcodeAUIPC:
		in.Op = OpAUIPC
		in.Imm = int64(int32(word & 0xFFFFF000))
		return in, nil

	case opcodeJAL:
		in.Op = OpJAL
		raw := (bits(word, 31, 31) << 20) | (bits(word, 19, 12) << 12) |
			(bits(word, 20, 20) << 11) | (bits(word, 30, 21) << 1)
		in.Imm = signExtend(raw, 20)
		return in, nil

	case opcodeJALR:
		if funct3 != 0 {
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		in.Op = OpJALR
		in.Imm = signExtend(bits(word, 31, 20), 11)
		return in, nil

	case opcodeBranch:
		raw := (bits(word, 31, 31) << 12) | (bits(word, 7, 7) << 11) |
			(bits(word, 30, 25) << 5) | (bits(word, 11, 8) << 1)
		in.Imm = signExtend(raw, 12)
		switch funct3 {
		case 0x0:
			in.Op = OpBEQ
		case 0x1:
			in.Op = OpBNE
		case 0x4:
			in.Op = OpBLT
		case 0x5:
			in.Op = OpBGE
		case 0x6:
			in.Op = OpBLTU
		case 0x7:
			in.Op = OpBGEU
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeLoad:
		in.Imm = signExtend(bits(word, 31, 20), 11)
		switch funct3 {
		case 0x0:
			in.Op = OpLB
		case 0x1:
			in.Op = OpLH
		case 0x2:
			in.Op = OpLW
		case 0x3:
			in.Op = OpLD
		case 0x4:
			in.Op = OpLBU
		case 0x5:
			in.Op = OpLHU
		case 0x6:
			in.Op = OpLWU
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeStore:
		raw := (funct7 << 5) | bits(word, 11, 7)
		in.Imm = signExtend(raw, 11)
		switch funct3 {
		case 0x0:
			in.Op = OpSB
		case 0x1:
			in.Op = OpSH
		case 0x2:
			in.Op = OpSW
		case 0x3:
			in.Op = OpSD
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeOpImm:
		imm := signExtend(bits(word, 31, 20), 11)
		in.Imm = imm
		switch funct3 {
		case 0x0:
			in.Op = OpADDI
		case 0x2:
			in.Op = OpSLTI
		case 0x3:
			in.Op = OpSLTIU
		case 0x4:
			in.Op = OpXORI
		case 0x6:
			in.Op = OpORI
		case 0x7:
			in.Op = OpANDI
		case 0x1:
			in.Op = OpSLLI
			in.Imm = int64(bits(word, 25, 20))
		case 0x5:
			in.Imm = int64(bits(word, 25, 20))
			if bits(word, 31, 26) == 0x10 {
				in.Op = OpSRAI
			} else {
				in.Op = OpSRLI
			}
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeOp:
		switch {
		case funct3 == 0x0 && funct7 == 0x00:
			in.Op = OpADD
		case funct3 == 0x0 && funct7 == 0x20:
			in.Op = OpSUB
		case funct3 == 0x1 && funct7 == 0x00:
			in.Op = OpSLL
		case funct3 == 0x2 && funct7 == 0x00:
			in.Op = OpSLT
		case funct3 == 0x3 && funct7 == 0x00:
			in.Op = OpSLTU
		case funct3 == 0x4 && funct7 == 0x00:
			in.Op = OpXOR
		case funct3 == 0x5 && funct7 == 0x00:
			in.Op = OpSRL
		case funct3 == 0x5 && funct7 == 0x20:
			in.Op = OpSRA
		case funct3 == 0x6 && funct7 == 0x00:
			in.Op = OpOR
		case funct3 == 0x7 && funct7 == 0x00:
			in.Op = OpAND
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeSystem:
		imm := bits(word, 31, 20)
		switch imm {
		case 0x0:
			in.Op = OpECALL
		case 0x1:
			in.Op = OpEBREAK
		default:
			return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
		}
		return in, nil

	case opcodeMiscMem:
		// FENCE: treated as a no-op, since spec.md's Non-goals exclude
		// multi-threaded guest execution and therefore any ordering it
		// would enforce.
		in.Op = OpADDI
		in.Rd = Zero
		in.Rs1 = Zero
		in.Imm = 0
		return in, nil

	default:
		return Instruction{}, &dmerr.DecodeError{PC: pc, Word: word}
	}
}

func encodeR(opcode uint32, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeI(opcode uint32, rd, funct3, rs1 uint32, imm int64) uint32 {
	return (uint32(imm)&0xFFF)<<20 | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeS(opcode uint32, funct3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	return ((u>>5)&0x7F)<<25 | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | ((u & 0x1F) << 7) | opcode
}

func encodeB(opcode uint32, funct3, rs1, rs2 uint32, imm int64) uint32 {
	u := uint32(imm)
	bit12 := (u >> 12) & 0x1
	bit11 := (u >> 11) & 0x1
	bits10_5 := (u >> 5) & 0x3F
	bits4_1 := (u >> 1) & 0xF
	return bit12<<31 | bits10_5<<25 | rs2<<20 | rs1<<15 | funct3<<12 | bits4_1<<8 | bit11<<7 | opcode
}

func encodeU(opcode, rd uint32, imm int64) uint32 {
	return (uint32(imm) & 0xFFFFF000) | (rd << 7) | opcode
}

func encodeJ(opcode, rd uint32, imm int64) uint32 {
	u := uint32(imm)
	bit20 := (u >> 20) & 0x1
	bits10_1 := (u >> 1) & 0x3FF
	bit11 := (u >> 11) & 0x1
	bits19_12 := (u >> 12) & 0xFF
	return bit20<<31 | bits10_1<<21 | bit11<<20 | bits19_12<<12 | (rd << 7) | opcode
}

// EncodeR builds an R-type instruction word (register-register ALU ops).
func EncodeR(op Op, rd, rs1, rs2 Reg) uint32 {
	switch op {
	case OpADD:
		return encodeR(opcodeOp, uint32(rd), 0x0, uint32(rs1), uint32(rs2), 0x00)
	case OpSUB:
		return encodeR(opcodeOp, uint32(rd), 0x0, uint32(rs1), uint32(rs2), 0x20)
	case OpSLL:
		return encodeR(opcodeOp, uint32(rd), 0x1, uint32(rs1), uint32(rs2), 0x00)
	case OpSLT:
		return encodeR(opcodeOp, uint32(rd), 0x2, uint32(rs1), uint32(rs2), 0x00)
	case OpSLTU:
		return encodeR(opcodeOp, uint32(rd), 0x3, uint32(rs1), uint32(rs2), 0x00)
	case OpXOR:
		return encodeR(opcodeOp, uint32(rd), 0x4, uint32(rs1), uint32(rs2), 0x00)
	case OpSRL:
		return encodeR(opcodeOp, uint32(rd), 0x5, uint32(rs1), uint32(rs2), 0x00)
	case OpSRA:
		return encodeR(opcodeOp, uint32(rd), 0x5, uint32(rs1), uint32(rs2), 0x20)
	case OpOR:
		return encodeR(opcodeOp, uint32(rd), 0x6, uint32(rs1), uint32(rs2), 0x00)
	case OpAND:
		return encodeR(opcodeOp, uint32(rd), 0x7, uint32(rs1), uint32(rs2), 0x00)
	default:
		panic("isa: EncodeR: not an R-type op: " + op.String())
	}
}

// EncodeI builds an I-type instruction word (immediate ALU ops, loads,
// JALR). For OpSLLI/OpSRLI/OpSRAI, imm is the shift amount (0-63).
func EncodeI(op Op, rd, rs1 Reg, imm int64) uint32 {
	switch op {
	case OpADDI:
		return encodeI(opcodeOpImm, uint32(rd), 0x0, uint32(rs1), imm)
	case OpSLTI:
		return encodeI(opcodeOpImm, uint32(rd), 0x2, uint32(rs1), imm)
	case OpSLTIU:
		return encodeI(opcodeOpImm, uint32(rd), 0x3, uint32(rs1), imm)
	case OpXORI:
		return encodeI(opcodeOpImm, uint32(rd), 0x4, uint32(rs1), imm)
	case OpORI:
		return encodeI(opcodeOpImm, uint32(rd), 0x6, uint32(rs1), imm)
	case OpANDI:
		return encodeI(opcodeOpImm, uint32(rd), 0x7, uint32(rs1), imm)
	case OpSLLI:
		return encodeR(opcodeOpImm, uint32(rd), 0x1, uint32(rs1), uint32(imm)&0x3F, 0x00)
	case OpSRLI:
		return encodeR(opcodeOpImm, uint32(rd), 0x5, uint32(rs1), uint32(imm)&0x3F, 0x00)
	case OpSRAI:
		return encodeR(opcodeOpImm, uint32(rd), 0x5, uint32(rs1), uint32(imm)&0x3F, 0x20)
	case OpLB:
		return encodeI(opcodeLoad, uint32(rd), 0x0, uint32(rs1), imm)
	case OpLH:
		return encodeI(opcodeLoad, uint32(rd), 0x1, uint32(rs1), imm)
	case OpLW:
		return encodeI(opcodeLoad, uint32(rd), 0x2, uint32(rs1), imm)
	case OpLD:
		return encodeI(opcodeLoad, uint32(rd), 0x3, uint32(rs1), imm)
	case OpLBU:
		return encodeI(opcodeLoad, uint32(rd), 0x4, uint32(rs1), imm)
	case OpLHU:
		return encodeI(opcodeLoad, uint32(rd), 0x5, uint32(rs1), imm)
	case OpLWU:
		return encodeI(opcodeLoad, uint32(rd), 0x6, uint32(rs1), imm)
	case OpJALR:
		return encodeI(opcodeJALR, uint32(rd), 0x0, uint32(rs1), imm)
	default:
		panic("isa: EncodeI: not an I-type op: " + op.String())
	}
}

// EncodeS builds an S-type instruction word (stores).
func EncodeS(op Op, rs1, rs2 Reg, imm int64) uint32 {
	switch op {
	case OpSB:
		return encodeS(opcodeStore, 0x0, uint32(rs1), uint32(rs2), imm)
	case OpSH:
		return encodeS(opcodeStore, 0x1, uint32(rs1), uint32(rs2), imm)
	case OpSW:
		return encodeS(opcodeStore, 0x2, uint32(rs1), uint32(rs2), imm)
	case OpSD:
		return encodeS(opcodeStore, 0x3, uint32(rs1), uint32(rs2), imm)
	default:
		panic("isa: EncodeS: not an S-type op: " + op.String())
	}
}

// EncodeB builds a B-type instruction word (conditional branches). imm is
// the byte offset from the branch's own address, must be even.
func EncodeB(op Op, rs1, rs2 Reg, imm int64) uint32 {
	switch op {
	case OpBEQ:
		return encodeB(opcodeBranch, 0x0, uint32(rs1), uint32(rs2), imm)
	case OpBNE:
		return encodeB(opcodeBranch, 0x1, uint32(rs1), uint32(rs2), imm)
	case OpBLT:
		return encodeB(opcodeBranch, 0x4, uint32(rs1), uint32(rs2), imm)
	case OpBGE:
		return encodeB(opcodeBranch, 0x5, uint32(rs1), uint32(rs2), imm)
	case OpBLTU:
		return encodeB(opcodeBranch, 0x6, uint32(rs1), uint32(rs2), imm)
	case OpBGEU:
		return encodeB(opcodeBranch, 0x7, uint32(rs1), uint32(rs2), imm)
	default:
		panic("isa: EncodeB: not a B-type op: " + op.String())
	}
}

// EncodeU builds a U-type instruction word (LUI, AUIPC). imm must already
// be shifted into bits [31:12].
func EncodeU(op Op, rd Reg, imm int64) uint32 {
	switch op {
	case OpLUI:
		return encodeU(opcodeLUI, uint32(rd), imm)
	case OpAUIPC:
		return encodeU(opcodeAUIPC, uint32(rd), imm)
	default:
		panic("isa: EncodeU: not a U-type op: " + op.String())
	}
}

// EncodeJ builds a J-type instruction word (JAL). imm is the byte offset
// from the jump's own address, must be even.
func EncodeJ(op Op, rd Reg, imm int64) uint32 {
	switch op {
	case OpJAL:
		return encodeJ(opcodeJAL, uint32(rd), imm)
	default:
		panic("isa: EncodeJ: not a J-type op: " + op.String())
	}
}

// EncodeSystem builds ECALL/EBREAK, which take no operands.
func EncodeSystem(op Op) uint32 {
	switch op {
	case OpECALL:
		return opcodeSystem
	case OpEBREAK:
		return (1 << 20) | opcodeSystem
	default:
		panic("isa: EncodeSystem: not a SYSTEM op: " + op.String())
	}
}
