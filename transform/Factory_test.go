/*
Copyright 2011-2026 Frederic Langlet
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
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFactoryTokenRoundTrip checks that every declared transform name maps
// to a functionType and that the functionType maps back to the same name,
// for the single-stage case.
func TestFactoryTokenRoundTrip(t *testing.T) {
	names := []string{
		"NONE", "BWT", "BWTS", "LZ", "SNAPPY", "RLT", "ZRLT", "MTFT",
		"RANK", "EXE", "TEXT", "ROLZ", "ROLZX", "SRT", "LZP", "MM",
		"LZX", "UTF",
	}

	for _, name := range names {
		functionType, err := GetType(name)
		require.NoError(t, err, "name %q", name)

		roundTripped, err := GetName(functionType)
		require.NoError(t, err, "type %d", functionType)
		require.Equal(t, name, roundTripped, "round trip mismatch for %q", name)
	}
}

// TestFactoryCompositeName checks that a pipeline of several transforms is
// named as a '+'-joined token string and that the composite name parses back
// to the same functionType bitfield.
func TestFactoryCompositeName(t *testing.T) {
	// BWT followed by a rank transform, encoded 6 bits per stage with the
	// first stage in the top slot.
	functionType := (BWT_TYPE << _BFF_MAX_SHIFT) | (RANK_TYPE << (_BFF_MAX_SHIFT - _BFF_ONE_SHIFT))

	name, err := GetName(functionType)
	require.NoError(t, err)
	require.Contains(t, name, "+")

	roundTripped, err := GetType(name)
	require.NoError(t, err)
	require.Equal(t, functionType, roundTripped)
}

// TestFactoryUnknownName checks that an unrecognized token is rejected.
func TestFactoryUnknownName(t *testing.T) {
	_, err := GetType("NOT_A_REAL_TRANSFORM")
	require.Error(t, err)
}

// TestFactoryNewBWT checks that New() builds a working sequence for a simple
// single-stage BWT pipeline and round trips a small buffer.
func TestFactoryNewBWT(t *testing.T) {
	ctx := make(map[string]interface{})
	ctx["blockSize"] = uint(1024)
	ctx["size"] = uint(1024)

	functionType, err := GetType("BWT")
	require.NoError(t, err)

	seq, err := New(&ctx, functionType)
	require.NoError(t, err)
	require.NotNil(t, seq)

	src := []byte("mississippi river mississippi river mississippi river")
	dst := make([]byte, seq.MaxEncodedLen(len(src)))
	back := make([]byte, len(src))

	_, encodedLen, err := seq.Forward(src, dst)
	require.NoError(t, err)

	_, decodedLen, err := seq.Inverse(dst[:encodedLen], back)
	require.NoError(t, err)
	require.Equal(t, uint(len(src)), decodedLen)
	require.Equal(t, src, back)
}
