// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Default values of Settings.
const (
	DefaultM         = 5
	DefaultFactr     = 1e7
	DefaultPgtol     = 1e-5
	DefaultAlpha     = 1e-3
	DefaultBeta      = 0.9
	DefaultEps       = 0.1
	DefaultMaxSearch = 20
)

// SearchTol configures the line search. Zero fields take their default.
type SearchTol struct {
	// Sufficient decrease: φ(ɑ) ≤ φ(0) + 𝚊𝚕𝚙𝚑𝚊·ɑ·φ′(0)
	Alpha float64 `yaml:"alpha" mapstructure:"alpha"`
	// Curvature condition: |φ′(ɑ)| ≤ 𝚋𝚎𝚝𝚊·|φ′(0)|
	Beta float64 `yaml:"beta" mapstructure:"beta"`
	// Relative width of the bracket below which the search gives up refining.
	Eps float64 `yaml:"eps" mapstructure:"eps"`
	// Evaluations allowed per line search.
	MaxEvals int `yaml:"max_evals" mapstructure:"max_evals"`
}

// Settings are the tunables of a session.
type Settings struct {
	// The number of correction pairs kept by the limited memory.
	// Zero degrades the method to scaled projected steepest descent.
	M int `yaml:"m" mapstructure:"m"`
	// The iteration stops when (fₖ - fₖ₊₁)/𝚖𝚊𝚡(|fₖ|,|fₖ₊₁|,1) ≤ 𝚏𝚊𝚌𝚝𝚛 × 𝚎𝚙𝚜𝚖𝚌𝚑.
	// A non-positive value disables the test.
	Factr float64 `yaml:"factr" mapstructure:"factr"`
	// The iteration stops when ‖ 𝚙𝚛𝚘𝚓 g ‖∞ ≤ 𝚙𝚐𝚝𝚘𝚕.
	// A non-positive value disables the test.
	Pgtol float64 `yaml:"pgtol" mapstructure:"pgtol"`
	// The session stops once this many iterations completed (0 means no limit).
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	// The session stops once this many evaluations were made (0 means no limit).
	MaxEvaluations int `yaml:"max_evaluations" mapstructure:"max_evaluations"`

	Search SearchTol `yaml:"line_search" mapstructure:"line_search"`
}

// DefaultSettings returns m=5, factr=1e7 and pgtol=1e-5 without limits.
func DefaultSettings() *Settings {
	return &Settings{
		M:     DefaultM,
		Factr: DefaultFactr,
		Pgtol: DefaultPgtol,
		Search: SearchTol{
			Alpha:    DefaultAlpha,
			Beta:     DefaultBeta,
			Eps:      DefaultEps,
			MaxEvals: DefaultMaxSearch,
		},
	}
}

// LoadSettings decodes YAML over the default settings.
// Unknown keys are rejected.
func LoadSettings(r io.Reader) (*Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings and fills the zero line-search fields.
func (s *Settings) Validate() (err error) {
	switch {
	case s.M < 0:
		err = errors.New("correction number must not be negative")
	case s.MaxIterations < 0:
		err = errors.New("max iterations must not be negative")
	case s.MaxEvaluations < 0:
		err = errors.New("max evaluations must not be negative")
	case s.Search.Alpha < 0, s.Search.Beta < 0, s.Search.Eps < 0:
		err = errors.New("line search tolerances must not be negative")
	case s.Search.MaxEvals < 0:
		err = errors.New("line search evaluations must not be negative")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.Search.Alpha == 0 {
		s.Search.Alpha = DefaultAlpha
	}
	if s.Search.Beta == 0 {
		s.Search.Beta = DefaultBeta
	}
	if s.Search.Eps == 0 {
		s.Search.Eps = DefaultEps
	}
	if s.Search.MaxEvals == 0 {
		s.Search.MaxEvals = DefaultMaxSearch
	}
	return nil
}

// String renders the settings as YAML.
func (s Settings) String() string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
