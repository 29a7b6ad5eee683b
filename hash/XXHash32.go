/*
Copyright 2011-2026 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License")
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// XXHash32 hashes byte slices down to a 32 bit digest for use as the
// checksum stored in each block record of the compressed stream. It is built on top of the
// 64 bit xxHash implementation, truncated to the low 32 bits.
type XXHash32 struct {
	seed uint32
	buf  [4]byte
}

// NewXXHash32 creates a new instance of XXHash32
func NewXXHash32(seed uint32) (*XXHash32, error) {
	this := new(XXHash32)
	this.seed = seed
	return this, nil
}

// SetSeed sets the hash seed
func (this *XXHash32) SetSeed(seed uint32) {
	this.seed = seed
}

// Hash hashes the provided data
func (this *XXHash32) Hash(data []byte) uint32 {
	d := xxhash.New()
	binary.LittleEndian.PutUint32(this.buf[:], this.seed)
	d.Write(this.buf[:])
	d.Write(data)
	return uint32(d.Sum64())
}
