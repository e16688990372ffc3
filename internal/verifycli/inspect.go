// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycli

import (
	"context"
	"fmt"
	"os"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"lbcv.dev/verifier/internal/bytecode"
	"lbcv.dev/verifier/internal/verify"
)

func runVerifierOnly(proto *bytecode.Prototype) error {
	return verify.Verify(proto)
}

type inspectOptions struct {
	file      string
	asJSON    bool
	verifyToo bool
}

func newInspectCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "inspect FILE",
		Short:                 "disassemble a compiled Lua chunk without running it",
		Args:                  cobra.ExactArgs(1),
		DisableFlagsInUseLine: true,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(inspectOptions)
	c.Flags().BoolVar(&opts.asJSON, "json", false, "print structured JSON instead of a text listing")
	c.Flags().BoolVar(&opts.verifyToo, "verify", false, "also run the verifier and report its verdict")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.file = args[0]
		return runInspect(cmd.Context(), g, opts)
	}
	return c
}

// protoView is the JSON-friendly projection of a [bytecode.Prototype]
// used by "inspect --json": an exported mirror of the unexported
// decoder's result, since Prototype itself carries no json tags (it's
// not meant to round-trip, only to be walked by the verifier).
type protoView struct {
	NumParams    int               `json:"numParams"`
	NumRegisters int               `json:"numRegisters"`
	IsVararg     bool              `json:"isVararg"`
	Instructions []instructionView `json:"instructions"`
	Constants    []string          `json:"constantTypes"`
	Upvalues     int               `json:"numUpvalues"`
	Prototypes   []protoView       `json:"prototypes"`
}

type instructionView struct {
	PC     int    `json:"pc"`
	Opcode string `json:"opcode"`
	Mode   string `json:"mode"`
	A      int    `json:"a"`
	B      int    `json:"b,omitempty"`
	C      int    `json:"c,omitempty"`
	Bx     int    `json:"bx,omitempty"`
}

func toProtoView(p *bytecode.Prototype) protoView {
	v := protoView{
		NumParams:    int(p.NumParams),
		NumRegisters: int(p.NumRegs),
		IsVararg:     p.IsVararg,
		Upvalues:     p.NumUpvalues(),
	}
	for _, ct := range p.ConstantTypes {
		v.Constants = append(v.Constants, ct.String())
	}
	for pc, ins := range p.Code {
		iv := instructionView{PC: pc, Opcode: ins.OpCode().String(), Mode: ins.OpCode().Mode().String(), A: ins.A()}
		switch ins.OpCode().Mode() {
		case bytecode.OpModeABC:
			iv.B, iv.C = ins.B(), ins.C()
		case bytecode.OpModeABx:
			iv.Bx = ins.Bx()
		case bytecode.OpModeAsBx:
			iv.Bx = ins.SBx()
		case bytecode.OpModeAx:
			iv.Bx = ins.Ax()
		}
		v.Instructions = append(v.Instructions, iv)
	}
	for _, child := range p.Prototypes {
		v.Prototypes = append(v.Prototypes, toProtoView(child))
	}
	return v
}

func runInspect(ctx context.Context, g *globalConfig, opts *inspectOptions) error {
	f, err := openInput(opts.file)
	if err != nil {
		return err
	}
	defer f.Close()

	allocator := bytecode.NoLimitAllocator
	if g.cfg.MaxAllocation > 0 {
		allocator = bytecode.NewBoundedAllocator(g.cfg.MaxAllocation)
	}
	proto, err := bytecode.DecodeAll(f, allocator, g.cfg.MaxDepth)
	if err != nil {
		return err
	}

	var verifyErr error
	if opts.verifyToo {
		verifyErr = runVerifierOnly(proto)
	}

	if opts.asJSON {
		out, err := jsonv2.Marshal(toProtoView(proto))
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		fmt.Println()
	} else {
		printListing(os.Stdout, proto, 0, term.IsTerminal(int(os.Stdout.Fd())))
	}

	if opts.verifyToo {
		if verifyErr != nil {
			fmt.Printf("verify: REJECTED: %v\n", verifyErr)
		} else {
			fmt.Println("verify: OK")
		}
	}
	return nil
}

func printListing(out *os.File, p *bytecode.Prototype, depth int, color bool) {
	indent := ""
	for range depth {
		indent += "  "
	}
	fmt.Fprintf(out, "%s%d params, %d registers, %d instructions, vararg=%v\n",
		indent, p.NumParams, p.NumRegs, len(p.Code), p.IsVararg)
	for pc, ins := range p.Code {
		op := ins.OpCode()
		name := op.String()
		if color {
			name = "\x1b[1m" + name + "\x1b[0m"
		}
		fmt.Fprintf(out, "%s\t%d\t%s", indent, pc, name)
		switch op.Mode() {
		case bytecode.OpModeABC:
			fmt.Fprintf(out, " %d %d %d\n", ins.A(), ins.B(), ins.C())
		case bytecode.OpModeABx:
			fmt.Fprintf(out, " %d %d\n", ins.A(), ins.Bx())
		case bytecode.OpModeAsBx:
			fmt.Fprintf(out, " %d %d\n", ins.A(), ins.SBx())
		case bytecode.OpModeAx:
			fmt.Fprintf(out, " %d\n", ins.Ax())
		}
	}
	for _, child := range p.Prototypes {
		printListing(out, child, depth+1, color)
	}
}
