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

	"github.com/steakknife/hamming"

	"github.com/mlnoga/imalign/internal/feature"
)

// Portable fallback. Counts bits of each 64-bit word in parallel with shifts and masks
func hammingPureGo(a, b *feature.Descriptor) int {
	d := 0
	for i := 0; i < feature.DescriptorBytes; i += 8 {
		d += hamming.Uint64(binary.LittleEndian.Uint64(a[i:]), binary.LittleEndian.Uint64(b[i:]))
	}
	return d
}
