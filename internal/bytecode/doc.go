// Copyright (C) 1994-2014 Lua.org, PUC-Rio.
// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

/*
Package bytecode decodes the official Lua 5.2 precompiled chunk format
into an in-memory [Prototype] tree, without executing or type-checking
any of it. See [NewDecoder] for the resumable entry point and
[DecodeAll] for the non-resumable convenience wrapper.

# Provenance

This package is a hand-written port of the Lua 5.2 dump format (lundump.c,
lopcodes.h) combined with the decoder design of the lbcv project's
trunk/src/decoder.c, specifically borrowing:

  - lopcodes.h (opcode layout and argument-mode tables)
  - lundump.c (header and prototype field order)
  - trunk/src/decoder.c, decoder.h (the resumable init/pump/finish
    contract and bit-field extraction strategy)

Unlike lundump.c, this package never trusts the size fields it reads: a
bytecode stream is adversarial input, not a trusted compiler artifact.

# Lua License

Copyright (C) 1994-2014 Lua.org, PUC-Rio.

Permission is hereby granted, free of charge, to any person obtaining
a copy of this software and associated documentation files (the
"Software"), to deal in the Software without restriction, including
without limitation the rights to use, copy, modify, merge, publish,
distribute, sublicense, and/or sell copies of the Software, and to
permit persons to whom the Software is furnished to do so, subject to
the following conditions:

The above copyright notice and this permission notice shall be
included in all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/
package bytecode
