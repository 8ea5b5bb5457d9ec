// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lbfgsb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettings(t *testing.T) {
	set, err := LoadSettings(strings.NewReader(`
m: 10
pgtol: 1.0e-8
max_iterations: 200
line_search:
  beta: 0.5
`))
	require.NoError(t, err)
	assert.Equal(t, 10, set.M)
	assert.Equal(t, DefaultFactr, set.Factr)
	assert.Equal(t, 1e-8, set.Pgtol)
	assert.Equal(t, 200, set.MaxIterations)
	assert.Equal(t, 0.5, set.Search.Beta)
	assert.Equal(t, DefaultAlpha, set.Search.Alpha)
	assert.Equal(t, DefaultMaxSearch, set.Search.MaxEvals)

	// the rendered settings load back unchanged
	again, err := LoadSettings(strings.NewReader(set.String()))
	require.NoError(t, err)
	assert.Equal(t, set, again)

	empty, err := LoadSettings(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), empty)
}

func TestLoadSettingsInvalid(t *testing.T) {
	for _, doc := range []string{
		"m: -1",
		"max_evaluations: -5",
		"line_search: {alpha: -0.1}",
		"line_search: {max_evals: -1}",
		"memory: 5",
		"m: [1, 2]",
	} {
		_, err := LoadSettings(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidInput, doc)
	}
}

func TestValidateFillsSearch(t *testing.T) {
	set := Settings{M: 3}
	require.NoError(t, set.Validate())
	assert.Equal(t, DefaultSettings().Search, set.Search)
	assert.Zero(t, set.Factr)
	assert.Zero(t, set.Pgtol)
}
