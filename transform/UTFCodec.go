/*
Copyright 2011-2024 Frederic Langlet
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
	"fmt"
	"sort"

	"github.com/pkg/errors"
	internal "github.com/kanzictl/kanzi-go/internal"
)

// UTFCodec replaces UTF-8 code points with a per-block dictionary index,
// so a block heavy on a small alphabet of multi-byte code points shrinks to
// mostly single- or two-byte aliases before entropy coding sees it.

const (
	_UTF_MIN_BLOCKSIZE = 1024
	_UTF_MAX_SYMBOLS   = 32768
	_UTF_ALIAS_BYTE2   = 128 // aliases at or beyond this rank cost 2 bytes
)

// codePointSizes maps the top 4 bits of a UTF-8 lead byte to the number of
// bytes the code point occupies; 0 marks a continuation byte, which can
// never open a code point.
var codePointSizes = []int{1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 2, 2, 3, 4}

// codePointFreq pairs a packed code point with how many times it occurred
// in the block, so the dictionary can be emitted most-frequent-first.
type codePointFreq struct {
	sym  int32
	freq int32
}

type byAscendingFreq []*codePointFreq

func (this byAscendingFreq) Len() int { return len(this) }

func (this byAscendingFreq) Less(i, j int) bool {
	if r := this[i].freq - this[j].freq; r != 0 {
		return r < 0
	}

	return this[i].sym < this[j].sym
}

func (this byAscendingFreq) Swap(i, j int) { this[i], this[j] = this[j], this[i] }

// utfSymbol is a decoded dictionary entry: the raw UTF-8 bytes and how many
// of them are significant.
type utfSymbol struct {
	value  [4]byte
	length uint8
}

// UTFCodec is a simple one-pass UTF8 codec that replaces code points with indexes.
type UTFCodec struct {
	ctx *map[string]any
}

// NewUTFCodec creates a new instance of UTFCodec
func NewUTFCodec() (*UTFCodec, error) {
	this := &UTFCodec{}
	return this, nil
}

// NewUTFCodecWithCtx creates a new instance of UTFCodec using a
// configuration map as parameter.
func NewUTFCodecWithCtx(ctx *map[string]any) (*UTFCodec, error) {
	this := &UTFCodec{}
	this.ctx = ctx
	return this, nil
}

// Forward applies the function to the src and writes the result
// to the destination. Returns number of bytes read, number of bytes
// written and possibly an error.
func (this *UTFCodec) Forward(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("Input and output buffers cannot be equal")
	}

	if len(src) < _UTF_MIN_BLOCKSIZE {
		return 0, 0, fmt.Errorf("Input block is too small - size: %d, required %d", len(src), _UTF_MIN_BLOCKSIZE)
	}

	if n := this.MaxEncodedLen(len(src)); len(dst) < n {
		return 0, 0, fmt.Errorf("Output buffer is too small - size: %d, required %d", len(dst), n)
	}

	if skip := this.skipReason(src); skip != nil {
		return 0, 0, skip
	}

	count := len(src)
	start := leadingPartialSymbolBytes(src)

	if this.requiresValidation() && !looksLikeUTF8(src[start:count-4]) {
		return 0, 0, errors.New("UTF forward transform skip: not UTF")
	}

	order, err := scanCodePoints(src[start : count-4])

	if len(order) == 0 {
		return 0, 0, errors.New("UTF forward transform skip: not UTF")
	}

	if err != nil {
		return 0, 0, err
	}

	dstEnd := count - (count / 10)

	if (3*len(order) + 6) >= dstEnd {
		return 0, 0, errors.New("UTF forward transform skip: no improvement")
	}

	// Sort ranks by increasing frequency, so the most frequent code points
	// land on the cheapest (single-byte) aliases once emitted in reverse.
	sort.Sort(byAscendingFreq(order))
	dstIdx, aliasOf, estimate := emitDictionary(dst, order)

	if estimate >= dstEnd {
		return 0, uint(dstIdx), errors.New("UTF forward transform skip: no improvement")
	}

	for i := 0; i < start; i++ {
		dst[dstIdx] = src[i]
		dstIdx++
	}

	srcIdx := start

	for srcIdx < count-4 {
		var val uint32
		srcIdx += packUTF(src[srcIdx:], &val)
		alias := aliasOf[val]
		dst[dstIdx] = byte(alias)
		dstIdx++
		dst[dstIdx] = byte(alias >> 8)
		dstIdx += int(alias >> 16)
	}

	dst[0] = byte(start)
	dst[1] = byte(srcIdx - (count - 4))

	for srcIdx < count {
		dst[dstIdx] = src[srcIdx]
		srcIdx++
		dstIdx++
	}

	if dstIdx >= dstEnd {
		return uint(srcIdx), uint(dstIdx), errors.New("UTF forward transform skip: no improvement")
	}

	return uint(srcIdx), uint(dstIdx), nil
}

// skipReason returns a non-nil error when the configured data-type hint
// already rules out this block being UTF-8, so the scan can be skipped.
func (this *UTFCodec) skipReason(src []byte) error {
	if this.ctx == nil {
		return nil
	}

	val, containsKey := (*this.ctx)["dataType"]

	if !containsKey {
		return nil
	}

	dt := val.(internal.DataType)

	if dt != internal.DT_UNDEFINED && dt != internal.DT_UTF8 {
		return errors.New("UTF forward transform skip: not UTF")
	}

	return nil
}

// requiresValidation reports whether the byte stream still needs a full
// UTF-8 structural scan, or whether an upstream data-type hint already
// vouches for it.
func (this *UTFCodec) requiresValidation() bool {
	if this.ctx == nil {
		return true
	}

	val, containsKey := (*this.ctx)["dataType"]

	if !containsKey {
		return true
	}

	return val.(internal.DataType) != internal.DT_UTF8
}

// leadingPartialSymbolBytes returns how many bytes at the start of src are
// continuation bytes left over from a code point truncated by the previous
// block boundary; those bytes are copied through verbatim rather than
// packed.
func leadingPartialSymbolBytes(src []byte) int {
	start := 0

	for start < 4 && codePointSizes[src[start]>>4] == 0 {
		start++
	}

	return start
}

// scanCodePoints walks block, packing each UTF-8 code point and tallying
// how often each distinct packed value occurs, returning the distinct
// values in first-seen order with their final frequency. It stops and
// reports an error on the first invalid code point or once the alphabet
// outgrows the dictionary, but always returns whatever entries it already
// collected so the caller can prioritize an empty-alphabet check.
func scanCodePoints(block []byte) ([]*codePointFreq, error) {
	// 1-3 bit size + (7 or 11 or 16 or 21) bit payload
	// 3 MSBs indicate symbol size (limit map size to 22 bits)
	// 000 -> 7 bits
	// 001 -> 11 bits
	// 010 -> 16 bits
	// 1xx -> 21 bits
	freqs := make([]int32, 1<<22)
	order := make([]*codePointFreq, 0, _UTF_MAX_SYMBOLS)
	var err error

	for i := 0; i < len(block); {
		var val uint32
		s := packUTF(block[i:], &val)

		if s == 0 {
			err = errors.New("UTF forward transform skip: invalid UTF")
			break
		}

		if freqs[val] == 0 {
			order = append(order, &codePointFreq{sym: int32(val)})

			if len(order) >= _UTF_MAX_SYMBOLS {
				err = errors.New("UTF forward transform skip: too many symbols")
				break
			}
		}

		freqs[val]++
		i += s
	}

	for _, e := range order {
		e.freq = freqs[e.sym]
	}

	return order, err
}

// emitDictionary writes the map-length header and the sorted dictionary
// entries (most frequent first) to dst, and builds the packed-value ->
// alias lookup the caller uses to rewrite the body. It also returns an
// estimate of the encoded size so the caller can bail out early if the
// dictionary overhead outweighs the savings.
func emitDictionary(dst []byte, order []*codePointFreq) (dstIdx int, aliasOf []int32, estimate int) {
	n := len(order)
	aliasOf = make([]int32, 1<<22)
	dstIdx = 2
	dst[dstIdx] = byte(n >> 8)
	dstIdx++
	dst[dstIdx] = byte(n)
	dstIdx++
	estimate = dstIdx + 6

	for i := 0; i < n; i++ {
		r := n - 1 - i
		s := order[r].sym

		dst[dstIdx] = byte(s >> 16)
		dst[dstIdx+1] = byte(s >> 8)
		dst[dstIdx+2] = byte(s)
		dstIdx += 3

		if i < _UTF_ALIAS_BYTE2 {
			estimate += int(order[r].freq)
			aliasOf[s] = int32(i)
		} else {
			estimate += 2 * int(order[r].freq)
			aliasOf[s] = 0x10080 | int32((i<<1)&0xFF00) | int32(i&0x7F)
		}
	}

	return dstIdx, aliasOf, estimate
}

// Inverse applies the reverse function to the src and writes the result
// to the destination. Returns number of bytes read, number of bytes
// written and possibly an error.
func (this *UTFCodec) Inverse(src, dst []byte) (uint, uint, error) {
	if len(src) == 0 {
		return 0, 0, nil
	}

	if len(src) < 4 {
		return 0, 0, fmt.Errorf("Input block is too small - size: %d, required %d", len(src), 4)
	}

	if &src[0] == &dst[0] {
		return 0, 0, errors.New("Input and output buffers cannot be equal")
	}

	count := len(src)
	start := int(src[0])
	adjust := int(src[1]) // adjust end of regular processing
	n := (int(src[2]) << 8) + int(src[3])

	if n >= _UTF_MAX_SYMBOLS || 3*n >= count {
		return 0, 0, errors.New("UTF inverse transform skip: invalid data")
	}

	dict := make([]utfSymbol, n)
	srcIdx, err := this.readDictionary(src, dict)

	if err != nil {
		return 0, 0, err
	}

	dstIdx := 0
	srcEnd := count - 4 + adjust

	for i := 0; i < start; i++ {
		dst[dstIdx] = src[srcIdx]
		srcIdx++
		dstIdx++
	}

	for srcIdx < srcEnd {
		alias := int(src[srcIdx])
		srcIdx++

		if alias >= _UTF_ALIAS_BYTE2 {
			alias = (int(src[srcIdx]) << 7) + (alias & 0x7F)
			srcIdx++
		}

		s := dict[alias]
		copy(dst[dstIdx:], s.value[:4])
		dstIdx += int(s.length)
	}

	for i := srcEnd; i < count; i++ {
		dst[dstIdx] = src[srcIdx]
		srcIdx++
		dstIdx++
	}

	return uint(srcIdx), uint(dstIdx), nil
}

// readDictionary decodes len(dict) dictionary entries that immediately
// follow the 4-byte Inverse header into dict, selecting the packed-value
// layout matching the bitstream version this instance was configured with.
// It returns the src offset just past the decoded entries.
func (this *UTFCodec) readDictionary(src []byte, dict []utfSymbol) (int, error) {
	bsVersion := uint(4)

	if this.ctx != nil {
		if val, containsKey := (*this.ctx)["bsVersion"]; containsKey {
			bsVersion = val.(uint)
		}
	}

	unpack := unpackUTF1

	if bsVersion < 4 {
		unpack = unpackUTF0
	}

	srcIdx := 4

	for i := range dict {
		s := (uint32(src[srcIdx]) << 16) | (uint32(src[srcIdx+1]) << 8) | uint32(src[srcIdx+2])
		sl := unpack(s, dict[i].value[:])

		if sl == 0 {
			return srcIdx, errors.New("UTF inverse transform skip: invalid data")
		}

		dict[i].length = uint8(sl)
		srcIdx += 3
	}

	return srcIdx, nil
}

// MaxEncodedLen returns the max size required for the encoding output buffer
func (this UTFCodec) MaxEncodedLen(srcLen int) int {
	return srcLen + 8192
}

// looksLikeUTF8 scans block's byte and byte-pair histograms and rejects it
// if any byte or bigram is impossible under strict UTF-8 encoding (RFC 3629
// / Unicode Table 3.7): overlong lead bytes C0/C1, lead bytes above F4, and
// out-of-range second bytes for the E0/ED/F0/F4 special cases.
func looksLikeUTF8(block []byte) bool {
	var freqs0 [256]int
	var freqs [256][256]int
	count := len(block)
	end4 := count & -4
	prv := byte(0)

	// Unroll loop
	for i := 0; i < end4; i += 4 {
		cur0 := block[i]
		cur1 := block[i+1]
		cur2 := block[i+2]
		cur3 := block[i+3]
		freqs0[cur0]++
		freqs0[cur1]++
		freqs0[cur2]++
		freqs0[cur3]++
		freqs[prv][cur0]++
		freqs[cur0][cur1]++
		freqs[cur1][cur2]++
		freqs[cur2][cur3]++
		prv = cur3
	}

	for i := end4; i < count; i++ {
		cur := block[i]
		freqs0[cur]++
		freqs[prv][cur]++
		prv = cur
	}

	// See Unicode 14 Standard - UTF-8 Table 3.7
	// U+0000..U+007F          00..7F
	// U+0080..U+07FF          C2..DF 80..BF
	// U+0800..U+0FFF          E0 A0..BF 80..BF
	// U+1000..U+CFFF          E1..EC 80..BF 80..BF
	// U+D000..U+D7FF          ED 80..9F 80..BF 80..BF
	// U+E000..U+FFFF          EE..EF 80..BF 80..BF
	// U+10000..U+3FFFF        F0 90..BF 80..BF 80..BF
	// U+40000..U+FFFFF        F1..F3 80..BF 80..BF 80..BF
	// U+100000..U+10FFFF      F4 80..8F 80..BF 80..BF
	if freqs0[0xC0] > 0 || freqs0[0xC1] > 0 {
		return false
	}

	for i := 0xF5; i <= 0xFF; i++ {
		if freqs0[i] > 0 {
			return false
		}
	}

	sum := 0

	for i := 0; i < 256; i++ {
		if (i < 0xA0 || i > 0xBF) && freqs[0xE0][i] > 0 {
			return false
		}

		if (i < 0x80 || i > 0x9F) && freqs[0xED][i] > 0 {
			return false
		}

		if (i < 0x90 || i > 0xBF) && freqs[0xF0][i] > 0 {
			return false
		}

		if (i < 0x80 || i > 0x8F) && freqs[0xF4][i] > 0 {
			return false
		}

		if i >= 0x80 && i <= 0xBF {
			sum += freqs0[i]
		}
	}

	// Ad-hoc threshold
	return sum >= (count / 4)
}

func packUTF(in []byte, out *uint32) int {
	s := codePointSizes[uint8(in[0])>>4]

	switch s {
	case 1:
		*out = uint32(in[0])

	case 2:
		*out = (1 << 19) | (uint32(in[0]) << 8) | uint32(in[1])

	case 3:
		*out = (2 << 19) | ((uint32(in[0]) & 0x0F) << 12) | ((uint32(in[1]) & 0x3F) << 6) | (uint32(in[2]) & 0x3F)

	case 4:
		*out = (4 << 19) | ((uint32(in[0]) & 0x07) << 18) | ((uint32(in[1]) & 0x3F) << 12) | ((uint32(in[2]) & 0x3F) << 6) | (uint32(in[3]) & 0x3F)

	default:
		*out = 0
		s = 0 // signal invalid value
	}

	return s
}

func unpackUTF0(in uint32, out []byte) int {
	s := int(in>>21) + 1

	switch s {
	case 1:
		out[0] = byte(in)

	case 2:
		out[0] = byte(in >> 8)
		out[1] = byte(in)

	case 3:
		out[0] = byte(((in >> 12) & 0x0F) | 0xE0)
		out[1] = byte(((in >> 6) & 0x3F) | 0x80)
		out[2] = byte((in & 0x3F) | 0x80)

	case 4:
		out[0] = byte(((in >> 18) & 0x07) | 0xF0)
		out[1] = byte(((in >> 12) & 0x3F) | 0x80)
		out[2] = byte(((in >> 6) & 0x3F) | 0x80)
		out[3] = byte((in & 0x3F) | 0x80)

	default:
		s = 0 // signal invalid value
	}

	return s
}

// Since Kanzi 2.2 (bitstream v4)
func unpackUTF1(in uint32, out []byte) int {
	var s int
	sz := in >> 19

	switch {
	case sz == 0:
		out[0] = byte(in)
		s = 1

	case sz == 1:
		out[0] = byte(in >> 8)
		out[1] = byte(in)
		s = 2

	case sz == 2:
		out[0] = byte(((in >> 12) & 0x0F) | 0xE0)
		out[1] = byte(((in >> 6) & 0x3F) | 0x80)
		out[2] = byte((in & 0x3F) | 0x80)
		s = 3

	case sz >= 4 && sz <= 7:
		out[0] = byte(((in >> 18) & 0x07) | 0xF0)
		out[1] = byte(((in >> 12) & 0x3F) | 0x80)
		out[2] = byte(((in >> 6) & 0x3F) | 0x80)
		out[3] = byte((in & 0x3F) | 0x80)
		s = 4

	default:
		s = 0 // signal invalid value
	}

	return s
}
