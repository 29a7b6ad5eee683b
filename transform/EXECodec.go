/*
Copyright 2011-2025 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transform

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	internal "github.com/kanzictl/kanzi-go/internal"
)

// EXECodec rewrites relative call/jump displacements in X86 and ARM64 machine
// code as absolute addresses so the entropy stage sees far more repetition
// across a code section than the relative encoding exposes on its own.

const (
	_EXE_X86_MASK_JUMP        = 0xFE
	_EXE_X86_INSTRUCTION_JUMP = 0xE8
	_EXE_X86_INSTRUCTION_JCC  = 0x80
	_EXE_X86_TWO_BYTE_PREFIX  = 0x0F
	_EXE_X86_MASK_JCC         = 0xF0
	_EXE_X86_ESCAPE           = 0xF5
	_EXE_NOT_EXE              = 0x80
	_EXE_X86                  = 0x40
	_EXE_ARM64                = 0x20
	_EXE_MASK_DT              = 0x0F
	_EXE_X86_ADDR_MASK        = (1 << 24) - 1
	_EXE_MASK_ADDRESS         = 0xF9B5A1CA
	_EXE_ARM_B_ADDR_MASK      = (1 << 26) - 1
	_EXE_ARM_B_OPCODE_MASK    = 0xFFFFFFFF ^ _EXE_ARM_B_ADDR_MASK
	_EXE_ARM_B_ADDR_SGN_MASK  = 1 << 25
	_EXE_ARM_OPCODE_B         = 0x14000000 // 6 bit opcode
	_EXE_ARM_OPCODE_BL        = 0x94000000 // 6 bit opcode
	_EXE_ARM_CB_REG_BITS      = 5          // lowest bits for register
	_EXE_ARM_CB_ADDR_MASK     = 0x00FFFFE0 // 18 bit addr mask
	_EXE_ARM_CB_ADDR_SGN_MASK = 1 << 18
	_EXE_ARM_CB_OPCODE_MASK   = 0x7F000000
	_EXE_ARM_OPCODE_CBZ       = 0x34000000 // 8 bit opcode
	_EXE_ARM_OPCODE_CBNZ      = 0x35000000 // 8 bit opcode
	_EXE_WIN_PE               = 0x00004550
	_EXE_WIN_X86_ARCH         = 0x014C
	_EXE_WIN_AMD64_ARCH       = 0x8664
	_EXE_WIN_ARM64_ARCH       = 0xAA64
	_EXE_ELF_X86_ARCH         = 0x03
	_EXE_ELF_AMD64_ARCH       = 0x3E
	_EXE_ELF_ARM64_ARCH       = 0xB7
	_EXE_MAC_AMD64_ARCH       = 0x01000007
	_EXE_MAC_ARM64_ARCH       = 0x0100000C
	_EXE_MAC_MH_EXECUTE       = 0x02
	_EXE_MAC_LC_SEGMENT       = 0x01
	_EXE_MAC_LC_SEGMENT64     = 0x19
	_EXE_MIN_BLOCK_SIZE       = 4096
	_EXE_MAX_BLOCK_SIZE       = (1 << (26 + 2)) - 1 // max offset << 2
	_EXE_MIN_JUMP_MATCHES     = 16
	_EXE_EXPANSION_NUM        = 1
	_EXE_EXPANSION_DEN        = 50
)

// codeSpan is the byte range of a binary's executable section, as located by
// parsing its container format header (PE, ELF or Mach-O). arch carries the
// container's raw machine-type field so the caller can pick X86 vs ARM64
// handling; found records whether a container header was recognized at all.
type codeSpan struct {
	start int
	end   int
	arch  int
	found bool
}

// EXECodec is a codec for X86/ARM64 code.
type EXECodec struct {
	ctx          *map[string]any
	isBsVersion2 bool
}

// NewEXECodec creates a new instance of EXECodec
func NewEXECodec() (*EXECodec, error) {
	this := &EXECodec{}
	this.isBsVersion2 = false
	return this, nil
}

// NewEXECodecWithCtx creates a new instance of EXECodec using a
// configuration map as parameter.
func NewEXECodecWithCtx(ctx *map[string]any) (*EXECodec, error) {
	this := &EXECodec{}
	this.ctx = ctx
	bsVersion := uint(2)

	if ctx != nil {
		if val, containsKey := (*ctx)["bsVersion"]; containsKey {
			var ok bool
			bsVersion, ok = val.(uint)

			if !ok {
				return nil, errors.New("Exe codec: invalid bitstream version type")
			}
		}
	}

	this.isBsVersion2 = bsVersion < 3
	return this, nil
}

// Forward applies the function to the src and writes the result
// to the destination. Returns number of bytes read, number of bytes
// written and possibly an error. If the source data does not represent
// X86 or ARM64 code, an error is returned.
func (this *EXECodec) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 || len(dst) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("Input and output buffers cannot be equal")
	}

	count := len(src)

	if count < _EXE_MIN_BLOCK_SIZE {
		return 0, 0, fmt.Errorf("ExeCodec forward failed: Block too small - size: %d, min %d)", count, _EXE_MIN_BLOCK_SIZE)
	}

	if count > _EXE_MAX_BLOCK_SIZE {
		return 0, 0, fmt.Errorf("ExeCodec forward failed: Block too big - size: %d, max %d", count, _EXE_MAX_BLOCK_SIZE)
	}

	if n := this.MaxEncodedLen(count); len(dst) < n {
		return 0, 0, fmt.Errorf("ExeCodec forward transform skip: Output buffer too small - size: %d, required %d", len(dst), n)
	}

	if this.ctx != nil {
		if val, containsKey := (*this.ctx)["dataType"]; containsKey {
			dt := val.(internal.DataType)

			if dt != internal.DT_UNDEFINED && dt != internal.DT_EXE && dt != internal.DT_BIN {
				return 0, 0, fmt.Errorf("ExeCodec forward transform skip: Input is not an executable")
			}
		}
	}

	span := classifyBinary(src[:count-4])

	if span.arch&_EXE_NOT_EXE != 0 {
		if this.ctx != nil {
			(*this.ctx)["dataType"] = internal.DataType(span.arch & _EXE_MASK_DT)
		}

		return 0, 0, fmt.Errorf("ExeCodec forward transform skip: Input is not an executable")
	}

	span.arch &= ^_EXE_MASK_DT

	if this.ctx != nil {
		(*this.ctx)["dataType"] = internal.DT_EXE
	}

	switch span.arch {
	case _EXE_X86:
		return this.forwardX86(src, dst, span.start, span.end)
	case _EXE_ARM64:
		return this.forwardARM(src, dst, span.start, span.end)
	default:
		return 0, 0, fmt.Errorf("ExeCodec forward transform skip: Input is not a supported executable format")
	}
}

// isX86RelativeBranch reports whether byte b opens an X86 relative
// call/jump instruction that this codec rewrites: an E8/E9 call or jump,
// or the 0x0F prefix of a two-byte Jcc whose opcode is next.
func isX86RelativeBranch(b, next byte) bool {
	if b == _EXE_X86_TWO_BYTE_PREFIX {
		return (next & _EXE_X86_MASK_JCC) == _EXE_X86_INSTRUCTION_JCC
	}

	return (b & _EXE_X86_MASK_JUMP) == _EXE_X86_INSTRUCTION_JUMP
}

func (this *EXECodec) forwardX86(src, dst []byte, codeStart, codeEnd int) (uint, uint, error) {
	if codeStart > len(src) || codeEnd > len(src) {
		return 0, 0, fmt.Errorf("ExeCodec forward transform skip: Input is not a supported executable format")
	}

	srcIdx := codeStart
	dstIdx := 9
	matches := 0
	dstEnd := len(dst) - 5
	dst[0] = _EXE_X86

	if codeStart > 0 {
		copy(dst[dstIdx:], src[0:codeStart])
		dstIdx += codeStart
	}

	for srcIdx < codeEnd && dstIdx < dstEnd {
		twoByte := src[srcIdx] == _EXE_X86_TWO_BYTE_PREFIX

		if !isX86RelativeBranch(src[srcIdx], src[srcIdx+1]) {
			if src[srcIdx] == _EXE_X86_ESCAPE {
				dst[dstIdx] = _EXE_X86_ESCAPE
				dstIdx++
			}

			dst[dstIdx] = src[srcIdx]
			srcIdx++
			dstIdx++
			continue
		}

		if twoByte {
			dst[dstIdx] = src[srcIdx]
			srcIdx++
			dstIdx++
		}

		// Current instruction is a jump/call.
		sgn := src[srcIdx+4]
		offset := int(binary.LittleEndian.Uint32(src[srcIdx+1:]))

		if (sgn != 0 && sgn != 0xFF) || (offset == 0xFF000000) {
			dst[dstIdx] = _EXE_X86_ESCAPE
			dst[dstIdx+1] = src[srcIdx]
			srcIdx++
			dstIdx += 2
			continue
		}

		// Absolute target address = srcIdx + 5 + offset. Let us ignore the +5
		addr := srcIdx

		if sgn == 0 {
			addr += offset
		} else {
			addr -= (-offset & _EXE_X86_ADDR_MASK)
		}

		dst[dstIdx] = src[srcIdx]
		binary.BigEndian.PutUint32(dst[dstIdx+1:], uint32(addr^_EXE_MASK_ADDRESS))
		srcIdx += 5
		dstIdx += 5
		matches++
	}

	return this.sealForwardOutput(src, dst, srcIdx, dstIdx, codeStart, codeEnd, dstEnd, matches)
}

// sealForwardOutput writes the codeStart/codeEnd header once the scan loop
// finishes, copies the remaining trailer bytes and rejects the transform
// when too few branches matched or the output expanded past what the
// entropy stage could recover from a false-positive-heavy input.
func (this *EXECodec) sealForwardOutput(src, dst []byte, srcIdx, dstIdx, codeStart, codeEnd, dstEnd, matches int) (uint, uint, error) {
	if matches < _EXE_MIN_JUMP_MATCHES {
		return uint(srcIdx), uint(dstIdx), errors.New("ExeCodec forward transform skip: Too few calls/jumps")
	}

	count := len(src)

	if srcIdx < codeEnd || dstIdx+(count-srcIdx) > dstEnd {
		return uint(srcIdx), uint(dstIdx), errors.New("ExeCodec forward transform skip: Too many false positives")
	}

	binary.LittleEndian.PutUint32(dst[1:], uint32(codeStart))
	binary.LittleEndian.PutUint32(dst[5:], uint32(dstIdx))
	copy(dst[dstIdx:], src[srcIdx:count])
	dstIdx += (count - srcIdx)

	if dstIdx > count+(count*_EXE_EXPANSION_NUM)/_EXE_EXPANSION_DEN {
		return uint(srcIdx), uint(dstIdx), errors.New("ExeCodec forward transform skip: Too many false positives")
	}

	return uint(count), uint(dstIdx), nil
}

// Inverse applies the reverse function to the src and writes the result
// to the destination. Returns number of bytes read, number of bytes
// written and possibly an error.
func (this *EXECodec) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 || len(dst) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("Input and output buffers cannot be equal")
	}

	if this.isBsVersion2 {
		return this.inverseV2(src, dst)
	}

	if len(src) < 9 {
		return 0, 0, errors.New("ExeCodec inverse transform failed: invalid data")
	}

	switch src[0] {
	case _EXE_X86:
		return this.inverseX86(src, dst)
	case _EXE_ARM64:
		return this.inverseARM(src, dst)
	default:
		return 0, 0, errors.New("ExeCodec inverse transform failed: unknown binary type")
	}
}

func (this *EXECodec) inverseX86(src, dst []byte) (uint, uint, error) {
	srcIdx := 9
	dstIdx := 0
	codeStart := int(binary.LittleEndian.Uint32(src[1:]))
	codeEnd := int(binary.LittleEndian.Uint32(src[5:]))

	if codeStart+srcIdx > len(src) || codeStart+dstIdx > len(dst) || codeEnd > len(src) {
		return 0, 0, errors.New("ExeCodec inverse transform failed: invalid data")
	}

	if codeStart > 0 {
		copy(dst[dstIdx:], src[srcIdx:srcIdx+codeStart])
		dstIdx += codeStart
		srcIdx += codeStart
	}

	for srcIdx < codeEnd {
		twoByte := src[srcIdx] == _EXE_X86_TWO_BYTE_PREFIX

		if !isX86RelativeBranch(src[srcIdx], src[srcIdx+1]) {
			if src[srcIdx] == _EXE_X86_ESCAPE {
				srcIdx++
			}

			dst[dstIdx] = src[srcIdx]
			srcIdx++
			dstIdx++
			continue
		}

		if twoByte {
			dst[dstIdx] = src[srcIdx]
			srcIdx++
			dstIdx++
		}

		// Current instruction is a jump/call. Decode absolute address
		addr := int(binary.BigEndian.Uint32(src[srcIdx+1:])) ^ _EXE_MASK_ADDRESS
		offset := addr - dstIdx
		dst[dstIdx] = src[srcIdx]
		srcIdx++
		dstIdx++

		if offset >= 0 {
			binary.LittleEndian.PutUint32(dst[dstIdx:], uint32(offset))
		} else {
			binary.LittleEndian.PutUint32(dst[dstIdx:], uint32(-(-offset & _EXE_X86_ADDR_MASK)))
		}

		srcIdx += 4
		dstIdx += 4
	}

	count := len(src)

	if srcIdx < count {
		copy(dst[dstIdx:], src[srcIdx:count])
		dstIdx += (count - srcIdx)
	}

	return uint(count), uint(dstIdx), nil
}

// inverseV2 decodes the legacy (bitstream version < 3) X86 encoding, which
// interleaves the rewritten addresses in place rather than framing them
// behind a codeStart/codeEnd header.
func (this *EXECodec) inverseV2(src, dst []byte) (uint, uint, error) {
	const legacyEscape = 0xF5
	const legacyXor = 0xD5

	count := len(src)
	srcIdx := 0
	dstIdx := 0
	end := count - 8

	for srcIdx < end {
		dst[dstIdx] = src[srcIdx]
		dstIdx++
		srcIdx++

		if src[srcIdx-1]&_EXE_X86_MASK_JUMP != _EXE_X86_INSTRUCTION_JUMP {
			continue
		}

		if src[srcIdx] == legacyEscape {
			srcIdx++
			continue
		}

		sgn := src[srcIdx] - 1

		if sgn != 0 && sgn != 0xFF {
			continue
		}

		addr := (legacyXor ^ int32(src[srcIdx+3])) |
			((legacyXor ^ int32(src[srcIdx+2])) << 8) |
			((legacyXor ^ int32(src[srcIdx+1])) << 16) |
			((0xFF & int32(sgn)) << 24)

		addr -= int32(dstIdx)
		dst[dstIdx] = byte(addr)
		dst[dstIdx+1] = byte(addr >> 8)
		dst[dstIdx+2] = byte(addr >> 16)
		dst[dstIdx+3] = sgn
		srcIdx += 4
		dstIdx += 4
	}

	copy(dst[dstIdx:], src[srcIdx:count])
	dstIdx += count - srcIdx
	srcIdx = count

	return uint(srcIdx), uint(dstIdx), nil
}

// armBranch describes a decoded ARM64 unconditional branch (B/BL): its
// absolute target and the encoded value once that target is folded back
// into the instruction word in place of the relative offset.
type armBranch struct {
	target int
	word   int
}

func decodeArmBranch(instr, pc int) armBranch {
	opcode := instr & _EXE_ARM_B_OPCODE_MASK
	offset := int(int32(instr & _EXE_ARM_B_ADDR_MASK))
	addr := 0

	if instr&_EXE_ARM_B_ADDR_SGN_MASK == 0 {
		addr = pc + 4*offset
	} else {
		addr = pc - 4*int(int32(-offset&_EXE_ARM_B_ADDR_MASK))
	}

	if addr < 0 {
		addr = 0
	}

	return armBranch{target: addr, word: opcode | (addr >> 2)}
}

func isArmUnconditionalBranch(instr int) bool {
	opcode := instr & _EXE_ARM_B_OPCODE_MASK
	return opcode == _EXE_ARM_OPCODE_B || opcode == _EXE_ARM_OPCODE_BL
}

func (this *EXECodec) forwardARM(src, dst []byte, codeStart, codeEnd int) (uint, uint, error) {
	if codeStart > len(src) || codeEnd > len(src) {
		return 0, 0, fmt.Errorf("ExeCodec forward failed: Input is not a supported executable format")
	}

	srcIdx := codeStart
	dstIdx := 9
	matches := 0
	dstEnd := len(dst) - 8
	dst[0] = _EXE_ARM64

	if codeStart > 0 {
		copy(dst[dstIdx:], src[0:codeStart])
		dstIdx += codeStart
	}

	for srcIdx < codeEnd && dstIdx < dstEnd {
		instr := int(binary.LittleEndian.Uint32(src[srcIdx:]))

		if !isArmUnconditionalBranch(instr) {
			copy(dst[dstIdx:], src[srcIdx:srcIdx+4])
			srcIdx += 4
			dstIdx += 4
			continue
		}

		branch := decodeArmBranch(instr, srcIdx)

		if branch.target == 0 {
			binary.LittleEndian.PutUint32(dst[dstIdx:], uint32(branch.word)) // 0 address as escape
			copy(dst[dstIdx+4:], src[srcIdx:srcIdx+4])
			srcIdx += 4
			dstIdx += 8
			continue
		}

		binary.LittleEndian.PutUint32(dst[dstIdx:], uint32(branch.word))
		srcIdx += 4
		dstIdx += 4
		matches++
	}

	return this.sealForwardOutput(src, dst, srcIdx, dstIdx, codeStart, codeEnd, dstEnd, matches)
}

func (this *EXECodec) inverseARM(src, dst []byte) (uint, uint, error) {
	srcIdx := 9
	dstIdx := 0
	codeStart := int(binary.LittleEndian.Uint32(src[1:]))
	codeEnd := int(binary.LittleEndian.Uint32(src[5:]))

	if codeStart+srcIdx > len(src) || codeStart+dstIdx > len(dst) || codeEnd > len(src) {
		return 0, 0, errors.New("ExeCodec inverse transform failed: invalid data")
	}

	if codeStart > 0 {
		copy(dst[dstIdx:], src[srcIdx:srcIdx+codeStart])
		dstIdx += codeStart
		srcIdx += codeStart
	}

	for srcIdx < codeEnd {
		instr := int(binary.LittleEndian.Uint32(src[srcIdx:]))

		if !isArmUnconditionalBranch(instr) {
			copy(dst[dstIdx:], src[srcIdx:srcIdx+4])
			srcIdx += 4
			dstIdx += 4
			continue
		}

		addr := (instr & _EXE_ARM_B_ADDR_MASK) << 2

		if addr == 0 {
			copy(dst[dstIdx:], src[srcIdx+4:srcIdx+8])
			srcIdx += 8
			dstIdx += 4
			continue
		}

		opcode := instr & _EXE_ARM_B_OPCODE_MASK
		offset := (addr - dstIdx) >> 2
		val := opcode | (offset & _EXE_ARM_B_ADDR_MASK)
		binary.LittleEndian.PutUint32(dst[dstIdx:], uint32(val))
		srcIdx += 4
		dstIdx += 4
	}

	count := len(src)

	if srcIdx < count {
		copy(dst[dstIdx:], src[srcIdx:count])
		dstIdx += (count - srcIdx)
	}

	return uint(count), uint(dstIdx), nil
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this *EXECodec) MaxEncodedLen(srcLen int) int {
	// Allocate some extra buffer for incompressible data.
	if srcLen <= 256 {
		return srcLen + 32
	}

	return srcLen + srcLen/8
}

// classifyBinary locates the executable code section of src and reports
// which architecture handler (if any) should process it. It first trusts a
// recognized PE/ELF/Mach-O container header, then falls back to a
// histogram-and-branch-density heuristic scan of the raw bytes when no
// known header is present (e.g. this block is not the first block of the
// file).
func classifyBinary(src []byte) codeSpan {
	magic := internal.GetMagicType(src)
	span := parseContainerHeader(src, magic)

	if span.found {
		switch span.arch {
		case _EXE_ELF_X86_ARCH, _EXE_ELF_AMD64_ARCH, _EXE_WIN_X86_ARCH, _EXE_WIN_AMD64_ARCH, _EXE_MAC_AMD64_ARCH:
			span.arch = _EXE_X86
			return span
		case _EXE_ELF_ARM64_ARCH, _EXE_WIN_ARM64_ARCH, _EXE_MAC_ARM64_ARCH:
			span.arch = _EXE_ARM64
			return span
		}
	} else {
		span = codeSpan{start: 0, end: len(src) - 4}
	}

	return heuristicClassify(src, span.start, span.end)
}

// heuristicClassify counts candidate relative-branch opcodes and the byte
// histogram over [start, end) to guess whether this looks like X86 code,
// ARM64 code, or neither (in which case a best-guess DataType is reported
// so the caller can record it and skip the transform).
func heuristicClassify(src []byte, start, end int) codeSpan {
	jumpsX86 := 0
	jumpsARM64 := 0
	count := end - start
	var histo [256]int

	for i := start; i < end; i++ {
		histo[src[i]]++

		if (src[i] & _EXE_X86_MASK_JUMP) == _EXE_X86_INSTRUCTION_JUMP {
			if (src[i+4] == 0) || (src[i+4] == 0xFF) {
				jumpsX86++
				continue
			}
		} else if src[i] == _EXE_X86_TWO_BYTE_PREFIX {
			i++

			if (src[i] == 0x38) || (src[i] == 0x3A) {
				i++
			}

			if (src[i] & _EXE_X86_MASK_JCC) == _EXE_X86_INSTRUCTION_JCC {
				jumpsX86++
				continue
			}
		}

		if (i & 3) != 0 {
			continue
		}

		instr := binary.LittleEndian.Uint32(src[i:])
		opcode1 := int(instr) & _EXE_ARM_B_OPCODE_MASK
		opcode2 := int(instr) & _EXE_ARM_CB_OPCODE_MASK

		if opcode1 == _EXE_ARM_OPCODE_B || opcode1 == _EXE_ARM_OPCODE_BL ||
			opcode2 == _EXE_ARM_OPCODE_CBZ || opcode2 == _EXE_ARM_OPCODE_CBNZ {
			jumpsARM64++
		}
	}

	dt := internal.DetectSimpleType(count, histo[:])

	if dt != internal.DT_BIN {
		return codeSpan{start: start, end: end, arch: _EXE_NOT_EXE | int(dt)}
	}

	smallVals := 0

	for _, h := range histo[0:16] {
		smallVals += h
	}

	if histo[0] < (count/10) || smallVals > (count/2) || histo[255] < (count/100) {
		return codeSpan{start: start, end: end, arch: _EXE_NOT_EXE | int(dt)}
	}

	if jumpsX86 >= (count/200) && histo[255] >= (count/50) {
		return codeSpan{start: start, end: end, arch: _EXE_X86}
	}

	if jumpsARM64 >= (count / 200) {
		return codeSpan{start: start, end: end, arch: _EXE_ARM64}
	}

	return codeSpan{start: start, end: end, arch: _EXE_NOT_EXE | int(dt)}
}

// parseContainerHeader dispatches to the container-specific header parser
// matching the magic number sniffed at the start of src.
func parseContainerHeader(src []byte, magic uint) codeSpan {
	switch magic {
	case internal.WIN_MAGIC:
		return parsePEHeader(src)
	case internal.ELF_MAGIC:
		return parseELFHeader(src)
	case internal.MAC_MAGIC32, internal.MAC_CIGAM32, internal.MAC_MAGIC64, internal.MAC_CIGAM64:
		return parseMachOHeader(src, magic)
	default:
		return codeSpan{}
	}
}

func parsePEHeader(src []byte) codeSpan {
	count := len(src)

	if count < 64 {
		return codeSpan{}
	}

	span := codeSpan{found: true, start: 0, end: count - 4}
	posPE := int(binary.LittleEndian.Uint32(src[60:]))

	if posPE > 0 && posPE <= count-48 && int(binary.LittleEndian.Uint32(src[posPE:])) == _EXE_WIN_PE {
		span.start = min(int(binary.LittleEndian.Uint32(src[posPE+44:])), count)
		span.end = min(span.start+int(binary.LittleEndian.Uint32(src[posPE+28:])), count)
		span.arch = int(binary.LittleEndian.Uint16(src[posPE+4:]))
	}

	return span
}

func parseELFHeader(src []byte) codeSpan {
	count := len(src)

	if count < 64 {
		return codeSpan{}
	}

	is64Bits := src[4] == 2
	littleEndian := src[5] == 1
	order := binary.ByteOrder(binary.BigEndian)

	if littleEndian {
		order = binary.LittleEndian
	}

	span := codeSpan{found: true, start: 0, end: count - 4}

	var nbEntries, szEntry int
	var posSection int64

	if is64Bits {
		nbEntries = int(order.Uint16(src[0x3C:]))
		szEntry = int(order.Uint16(src[0x3A:]))
		posSection = int64(order.Uint64(src[0x28:]))
	} else {
		nbEntries = int(order.Uint16(src[0x30:]))
		szEntry = int(order.Uint16(src[0x2E:]))
		posSection = int64(order.Uint32(src[0x20:]))
	}

	for i := 0; i < nbEntries; i++ {
		startEntry := int(posSection) + i*szEntry
		headerFieldsSize := 0x18

		if is64Bits {
			headerFieldsSize = 0x28
		}

		if startEntry+headerFieldsSize >= count {
			return codeSpan{}
		}

		typeSection := int(order.Uint32(src[startEntry+4:]))
		var offSection, lenSection int64

		if is64Bits {
			offSection = int64(order.Uint64(src[startEntry+0x18:]))
			lenSection = int64(order.Uint64(src[startEntry+0x20:]))
		} else {
			offSection = int64(order.Uint32(src[startEntry+0x10:]))
			lenSection = int64(order.Uint32(src[startEntry+0x14:]))
		}

		if typeSection == 1 && lenSection >= 64 {
			if span.start == 0 {
				span.start = int(offSection)
			}

			span.end = int(offSection + lenSection)
		}
	}

	span.arch = int(order.Uint16(src[18:]))
	span.start = min(span.start, count)
	span.end = min(span.end, count)
	return span
}

func parseMachOHeader(src []byte, magic uint) codeSpan {
	count := len(src)

	if count < 64 {
		return codeSpan{}
	}

	if binary.LittleEndian.Uint32(src[12:]) != _EXE_MAC_MH_EXECUTE {
		return codeSpan{}
	}

	is64Bits := magic == internal.MAC_MAGIC64 || magic == internal.MAC_CIGAM64
	span := codeSpan{found: true, start: 0, end: count - 4, arch: int(binary.LittleEndian.Uint32(src[4:]))}
	nbCmds := int(binary.LittleEndian.Uint32(src[0x10:]))
	pos := 0x1C

	if is64Bits {
		pos = 0x20
	}

	const textSegmentName = 0x5F5F54455854 // "__TEXT\x00\x00"
	const textSectionName = 0x5F5F74657874 // "__text\x00\x00"

	for cmd := 0; cmd < nbCmds; cmd++ {
		ldCmd := int(binary.LittleEndian.Uint32(src[pos:]))
		szCmd := int(binary.LittleEndian.Uint32(src[pos+4:]))
		szSegHdr := 0x38

		if is64Bits {
			szSegHdr = 0x48
		}

		if ldCmd == _EXE_MAC_LC_SEGMENT || ldCmd == _EXE_MAC_LC_SEGMENT64 {
			if pos+14 >= count {
				return codeSpan{}
			}

			if binary.BigEndian.Uint64(src[pos+8:])>>16 == textSegmentName {
				posSection := pos + szSegHdr

				if posSection+0x34 >= count {
					return codeSpan{}
				}

				if binary.BigEndian.Uint64(src[posSection:])>>16 == textSectionName {
					if is64Bits {
						span.start = int(int32(binary.LittleEndian.Uint64(src[posSection+0x30:])))
					} else {
						span.start = int(int32(binary.LittleEndian.Uint32(src[posSection+0x2C:])))
					}

					span.end = span.start + int(int32(binary.LittleEndian.Uint32(src[posSection+0x28:])))
					break
				}
			}
		}

		pos += szCmd
	}

	span.start = min(span.start, count)
	span.end = min(span.end, count)
	return span
}
