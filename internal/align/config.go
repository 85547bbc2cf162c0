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


package align

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mlnoga/imalign/internal/feature"
	"github.com/mlnoga/imalign/internal/homography"
)

// Settings of the alignment pipeline. An immutable value, passed into NewAligner
type Config struct {
	Feature           feature.Options    `json:"feature"`
	GoodMatchFraction float64            `json:"goodMatchFraction"` // Share of matches with lowest distance kept for estimation, (0,1]
	Homography        homography.Options `json:"homography"`
	Seed              uint32             `json:"seed"`       // Seed for RANSAC sampling. 0 picks a random seed per alignment
	FillValue         uint8              `json:"fillValue"`  // Value of warped pixels outside the moving image
	MaxThreads        int                `json:"maxThreads"` // Goroutines for descriptor matching, 0 for one per CPU
}

func DefaultConfig() Config {
	return Config{
		Feature:           feature.DefaultOptions(),
		GoodMatchFraction: 0.15,
		Homography:        homography.DefaultOptions(),
	}
}

func (c Config) Validate() error {
	if err := c.Feature.Validate(); err != nil {
		return err
	}
	if !(c.GoodMatchFraction > 0 && c.GoodMatchFraction <= 1) {
		return errors.New(fmt.Sprintf("good match fraction %g must be in (0,1]", c.GoodMatchFraction))
	}
	if err := c.Homography.Validate(); err != nil {
		return err
	}
	if c.MaxThreads < 0 {
		return errors.New(fmt.Sprintf("max threads %d must not be negative", c.MaxThreads))
	}
	return nil
}

// Reads a JSON configuration, overlaying the fields present onto the defaults. Unknown fields are an error
func LoadConfig(r io.Reader) (Config, error) {
	c := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return Config{}, fmt.Errorf("parsing alignment config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
