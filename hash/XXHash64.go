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

// XXHash64 hashes byte slices with a 64 bit digest, seeded so that the
// same seed and input always give the same digest.
type XXHash64 struct {
	seed uint64
	buf  [8]byte
}

// NewXXHash64 creates a new instance of XXHash64
func NewXXHash64(seed uint64) (*XXHash64, error) {
	this := new(XXHash64)
	this.seed = seed
	return this, nil
}

// SetSeed sets the hash seed
func (this *XXHash64) SetSeed(seed uint64) {
	this.seed = seed
}

// Hash hashes the provided data
func (this *XXHash64) Hash(data []byte) uint64 {
	d := xxhash.New()
	binary.LittleEndian.PutUint64(this.buf[:], this.seed)
	d.Write(this.buf[:])
	d.Write(data)
	return d.Sum64()
}
