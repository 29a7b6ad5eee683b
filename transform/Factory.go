/*
Copyright 2011-2022 Frederic Langlet
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
	"strings"

	"github.com/pkg/errors"
	kanzi "github.com/kanzictl/kanzi-go"
)

const (
	_BFF_ONE_SHIFT = 6                        // bits per transform
	_BFF_MAX_SHIFT = (8 - 1) * _BFF_ONE_SHIFT // 8 transforms
	_BFF_MASK      = (1 << _BFF_ONE_SHIFT) - 1

	// Up to 64 transforms can be declared (6 bit index)
	NONE_TYPE   = uint64(0)  // Copy
	BWT_TYPE    = uint64(1)  // Burrows Wheeler
	BWTS_TYPE   = uint64(2)  // Burrows Wheeler Scott
	LZ_TYPE     = uint64(3)  // Lempel Ziv
	SNAPPY_TYPE = uint64(4)  // Snappy (declared, not implemented)
	RLT_TYPE    = uint64(5)  // Run Length
	ZRLT_TYPE   = uint64(6)  // Zero Run Length
	MTFT_TYPE   = uint64(7)  // Move To Front
	RANK_TYPE   = uint64(8)  // Rank
	EXE_TYPE    = uint64(9)  // EXE codec
	DICT_TYPE   = uint64(10) // Text/dictionary codec
	ROLZ_TYPE   = uint64(11) // ROLZ codec
	ROLZX_TYPE  = uint64(12) // ROLZ Extra codec
	SRT_TYPE    = uint64(13) // Sorted Rank
	LZP_TYPE    = uint64(14) // Lempel Ziv Predict
	MM_TYPE     = uint64(15) // Multimedia (FSD) codec
	LZX_TYPE    = uint64(16) // Lempel Ziv Extra
	UTF_TYPE    = uint64(17) // UTF codec
	RESERVED1   = uint64(18) // Reserved
	RESERVED2   = uint64(19) // Reserved
	RESERVED3   = uint64(20) // Reserved
	RESERVED4   = uint64(21) // Reserved
	RESERVED5   = uint64(22) // Reserved
)

// New creates a new instance of ByteTransformSequence based on the provided
// function type.
func New(ctx *map[string]interface{}, functionType uint64) (*ByteTransformSequence, error) {
	nbtr := 0

	// Several transforms
	for s := _BFF_MAX_SHIFT; s >= 0; s -= _BFF_ONE_SHIFT {
		if (functionType>>uint(s))&_BFF_MASK != NONE_TYPE {
			nbtr++
		}
	}

	// Only null transforms ? Keep first.
	if nbtr == 0 {
		nbtr = 1
	}

	transforms := make([]kanzi.ByteTransform, nbtr)
	nbtr = 0
	var err error

	for i := range transforms {
		t := (functionType >> (_BFF_MAX_SHIFT - _BFF_ONE_SHIFT*uint(i))) & _BFF_MASK

		if t != NONE_TYPE || i == 0 {
			if transforms[nbtr], err = newToken(ctx, t); err != nil {
				return nil, err
			}
		}

		nbtr++
	}

	return NewByteTransformSequence(transforms)
}

// tokenConstructor builds one stage of a transform sequence, given the
// shared configuration map. Constructors that need to steer a shared
// underlying codec (LZ family, SBRT family) stash a discriminator in ctx
// before delegating.
type tokenConstructor func(ctx *map[string]interface{}) (kanzi.ByteTransform, error)

// newLZVariant returns a constructor that tags ctx with which LZ flavor
// (plain, extra match-length coding, or predict-only) the shared
// LZCodec should run as.
func newLZVariant(kind uint64) tokenConstructor {
	return func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) {
		(*ctx)["lz"] = kind
		return NewLZCodecWithCtx(ctx)
	}
}

// newSBRTVariant returns a constructor that tags ctx with which SBRT mode
// (move-to-front or generalized rank) the shared SBRT codec should run as.
func newSBRTVariant(mode int) tokenConstructor {
	return func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) {
		(*ctx)["sbrt"] = mode
		return NewSBRTWithCtx(ctx)
	}
}

func newTextCodecToken(ctx *map[string]interface{}) (kanzi.ByteTransform, error) {
	textCodecType := 1

	if val, containsKey := (*ctx)["entropy"]; containsKey {
		entropyType := strings.ToUpper(val.(string))

		// Select text encoding based on entropy codec.
		if entropyType == "NONE" || entropyType == "ANS0" ||
			entropyType == "HUFFMAN" || entropyType == "RANGE" {
			textCodecType = 2
		}
	}

	(*ctx)["textcodec"] = textCodecType
	return NewTextCodecWithCtx(ctx)
}

var tokenConstructors = map[uint64]tokenConstructor{
	DICT_TYPE:  newTextCodecToken,
	ROLZ_TYPE:  func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewROLZCodecWithCtx(ctx) },
	ROLZX_TYPE: func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewROLZCodecWithCtx(ctx) },
	BWT_TYPE:   func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewBWTWithCtx(ctx) },
	BWTS_TYPE:  func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewBWTSWithCtx(ctx) },
	LZ_TYPE:    newLZVariant(LZ_TYPE),
	LZX_TYPE:   newLZVariant(LZX_TYPE),
	LZP_TYPE:   newLZVariant(LZP_TYPE),
	UTF_TYPE:   func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewUTFCodecWithCtx(ctx) },
	MM_TYPE:    func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewFSDCodecWithCtx(ctx) },
	SNAPPY_TYPE: func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) {
		return nil, errors.New("Snappy codec is declared but not implemented")
	},
	SRT_TYPE:  func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewSRTWithCtx(ctx) },
	RANK_TYPE: newSBRTVariant(SBRT_MODE_RANK),
	MTFT_TYPE: newSBRTVariant(SBRT_MODE_MTF),
	ZRLT_TYPE: func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewZRLTWithCtx(ctx) },
	RLT_TYPE:  func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewRLTWithCtx(ctx) },
	EXE_TYPE:  func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewEXECodecWithCtx(ctx) },
	NONE_TYPE: func(ctx *map[string]interface{}) (kanzi.ByteTransform, error) { return NewNullTransformWithCtx(ctx) },
}

func newToken(ctx *map[string]interface{}, functionType uint64) (kanzi.ByteTransform, error) {
	ctor, ok := tokenConstructors[functionType]

	if !ok {
		return nil, fmt.Errorf("Unknown transform type: '%d'", functionType)
	}

	return ctor(ctx)
}

// GetName transforms the function type into a function name
func GetName(functionType uint64) (string, error) {
	var s string
	var name string
	var err error

	for i := uint(0); i < 8; i++ {
		t := (functionType >> (_BFF_MAX_SHIFT - _BFF_ONE_SHIFT*i)) & _BFF_MASK

		if t == NONE_TYPE {
			continue
		}

		if name, err = getByteFunctionNameToken(t); err != nil {
			return "", err
		}

		if len(s) != 0 {
			s += "+"
		}

		s += name
	}

	if len(s) == 0 {
		if name, err = getByteFunctionNameToken(NONE_TYPE); err != nil {
			return "", err
		}

		s += name
	}

	return s, nil
}

// byteFunctionNames maps each token to its canonical bitstream name.
var byteFunctionNames = map[uint64]string{
	DICT_TYPE:   "TEXT",
	ROLZ_TYPE:   "ROLZ",
	ROLZX_TYPE:  "ROLZX",
	BWT_TYPE:    "BWT",
	BWTS_TYPE:   "BWTS",
	LZ_TYPE:     "LZ",
	LZX_TYPE:    "LZX",
	LZP_TYPE:    "LZP",
	UTF_TYPE:    "UTF",
	EXE_TYPE:    "EXE",
	MM_TYPE:     "MM",
	ZRLT_TYPE:   "ZRLT",
	RLT_TYPE:    "RLT",
	SRT_TYPE:    "SRT",
	RANK_TYPE:   "RANK",
	MTFT_TYPE:   "MTFT",
	SNAPPY_TYPE: "SNAPPY",
	NONE_TYPE:   "NONE",
}

func getByteFunctionNameToken(functionType uint64) (string, error) {
	if name, ok := byteFunctionNames[functionType]; ok {
		return name, nil
	}

	return "", fmt.Errorf("Unknown transform type: '%d'", functionType)
}

// GetType transforms the function name into a function type.
// The returned type contains 8 transform type values (masks).
func GetType(name string) (uint64, error) {
	if strings.IndexByte(name, byte('+')) < 0 {
		res, err := getByteFunctionTypeToken(name)

		if err != nil {
			return 0, err
		}

		return res << _BFF_MAX_SHIFT, nil
	}

	tokens := strings.Split(name, "+")

	if len(tokens) == 0 {
		return 0, fmt.Errorf("Unknown transform type: '%s'", name)
	}

	if len(tokens) > 8 {
		return 0, fmt.Errorf("Only 8 transforms allowed: '%s'", name)
	}

	res := uint64(0)
	shift := _BFF_MAX_SHIFT

	for _, token := range tokens {
		tkType, err := getByteFunctionTypeToken(token)

		if err != nil {
			return 0, err
		}

		// Skip null transform
		if tkType != NONE_TYPE {
			res |= (tkType << shift)
			shift -= _BFF_ONE_SHIFT
		}
	}

	return res, nil
}

// byteFunctionTypes maps every bitstream-visible name (including the
// DICT/TEXT and FSD/MM aliases used across the ecosystem) to its token.
var byteFunctionTypes = map[string]uint64{
	"TEXT":   DICT_TYPE,
	"DICT":   DICT_TYPE,
	"BWT":    BWT_TYPE,
	"BWTS":   BWTS_TYPE,
	"ROLZ":   ROLZ_TYPE,
	"ROLZX":  ROLZX_TYPE,
	"LZ":     LZ_TYPE,
	"LZX":    LZX_TYPE,
	"LZP":    LZP_TYPE,
	"UTF":    UTF_TYPE,
	"MM":     MM_TYPE,
	"FSD":    MM_TYPE,
	"SRT":    SRT_TYPE,
	"RANK":   RANK_TYPE,
	"MTFT":   MTFT_TYPE,
	"ZRLT":   ZRLT_TYPE,
	"RLT":    RLT_TYPE,
	"EXE":    EXE_TYPE,
	"SNAPPY": SNAPPY_TYPE,
	"NONE":   NONE_TYPE,
}

func getByteFunctionTypeToken(name string) (uint64, error) {
	if t, ok := byteFunctionTypes[strings.ToUpper(name)]; ok {
		return t, nil
	}

	return 0, fmt.Errorf("Unknown transform type: '%s'", name)
}
