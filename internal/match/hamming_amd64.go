// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package match

import (
	"encoding/binary"

	"github.com/klauspost/cpuid"
	"github.com/steakknife/hamming"

	"github.com/mlnoga/imalign/internal/feature"
)

var hasPopcnt = cpuid.CPU.Popcnt()

// Returns the number of differing bits between two descriptors
func Hamming(a, b *feature.Descriptor) int {
	if hasPopcnt {
		return hammingPopcnt(a, b)
	}
	return hammingPureGo(a, b)
}

// Counts with the POPCNT instruction. Faults on CPUs without it
func hammingPopcnt(a, b *feature.Descriptor) int {
	d := 0
	for i := 0; i < feature.DescriptorBytes; i += 8 {
		d += hamming.CountBitsUint64PopCnt(binary.LittleEndian.Uint64(a[i:]) ^ binary.LittleEndian.Uint64(b[i:]))
	}
	return d
}
