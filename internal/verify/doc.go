// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package verify implements the abstract-interpretation verifier: given a
decoded [bytecode.Prototype], it decides whether executing it could read
an uninitialized register, dereference an invalid upvalue or constant,
jump outside the instruction array, or otherwise violate the host VM's
memory-safety invariants. It makes no claim about functional correctness
or termination.

# Provenance

This package is a hand-written port of the lbcv project's
src/verifier.c and src/verifier.h: the register-state flag lattice, the
per-opcode static and dynamic checks, the successor-scheduling rules,
and the worklist fixed-point driver all follow that file function for
function, adapted from C structs and goto-free loops into Go methods,
interfaces, and this package's own [deque]-backed worklist.

[deque]: lbcv.dev/verifier/internal/deque
*/
package verify
