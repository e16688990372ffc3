// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package bytecode

import "testing"

func TestInstructionFieldsABC(t *testing.T) {
	ins := encodeInstruction(OpAdd, 3, 260, 511)
	if got := ins.OpCode(); got != OpAdd {
		t.Errorf("OpCode() = %v; want %v", got, OpAdd)
	}
	if got := ins.A(); got != 3 {
		t.Errorf("A() = %d; want 3", got)
	}
	if got := ins.B(); got != 260 {
		t.Errorf("B() = %d; want 260", got)
	}
	if got := ins.C(); got != 511 {
		t.Errorf("C() = %d; want 511", got)
	}
}

func TestInstructionFieldsABx(t *testing.T) {
	ins := encodeInstructionABx(OpLoadK, 7, MaxArgBx)
	if got := ins.A(); got != 7 {
		t.Errorf("A() = %d; want 7", got)
	}
	if got := ins.Bx(); got != MaxArgBx {
		t.Errorf("Bx() = %d; want %d", got, MaxArgBx)
	}
}

func TestInstructionFieldsAsBx(t *testing.T) {
	tests := []int{-MaxArgSBx, -1, 0, 1, MaxArgSBx}
	for _, sbx := range tests {
		ins := encodeInstructionAsBx(OpJmp, 0, sbx)
		if got := ins.SBx(); got != sbx {
			t.Errorf("encodeInstructionAsBx(%d).SBx() = %d; want %d", sbx, got, sbx)
		}
	}
}

func TestInstructionFieldsAx(t *testing.T) {
	ins := encodeInstructionAx(OpExtraArg, MaxArgAx)
	if got := ins.Ax(); got != MaxArgAx {
		t.Errorf("Ax() = %d; want %d", got, MaxArgAx)
	}
}

func TestIsKIndex(t *testing.T) {
	tests := []struct {
		rk     int
		isK    bool
		kindex int
	}{
		{rk: 5, isK: false, kindex: 5},
		{rk: KBit | 5, isK: true, kindex: 5},
		{rk: KBit | 0, isK: true, kindex: 0},
		{rk: MaxArgB, isK: true, kindex: MaxArgB &^ KBit},
	}
	for _, test := range tests {
		if got := IsK(test.rk); got != test.isK {
			t.Errorf("IsK(%d) = %v; want %v", test.rk, got, test.isK)
		}
		if test.isK {
			if got := KIndex(test.rk); got != test.kindex {
				t.Errorf("KIndex(%d) = %d; want %d", test.rk, got, test.kindex)
			}
		}
	}
}

func TestOpCodeMetadataTableComplete(t *testing.T) {
	for op := OpCode(0); op < numOpCodes; op++ {
		if opProps[op].name == "" {
			t.Errorf("opcode %d has no metadata row", op)
		}
		if !op.Valid() {
			t.Errorf("OpCode(%d).Valid() = false; want true", op)
		}
	}
	if OpExtraArg.String() != "EXTRAARG" {
		t.Errorf("OpExtraArg.String() = %q; want EXTRAARG", OpExtraArg.String())
	}
	if OpCode(numOpCodes).Valid() {
		t.Error("OpCode(numOpCodes).Valid() = true; want false")
	}
}

func TestDecodeInstructionWordEndianness(t *testing.T) {
	little := []byte{0x01, 0x02, 0x03, 0x04}
	big := []byte{0x04, 0x03, 0x02, 0x01}
	gotLE := decodeInstructionWord(little, true)
	gotBE := decodeInstructionWord(big, false)
	if gotLE != gotBE {
		t.Errorf("decodeInstructionWord disagreed across declared endianness: %#x vs %#x", uint32(gotLE), uint32(gotBE))
	}
}
