// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/curioloop/lbfgsb/lbfgsb"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("m: 7\npgtol: 1e-3\nline_search:\n  max_evals: 30\n"), 0o600))
	t.Setenv("LBFGSB_FACTR", "100")

	out, err := execute(t, "config", "--config", path, "--pgtol", "1e-9")
	require.NoError(t, err)

	set, err := lbfgsb.LoadSettings(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, 7, set.M)
	assert.Equal(t, 100.0, set.Factr)
	assert.Equal(t, 1e-9, set.Pgtol)
	assert.Equal(t, 30, set.Search.MaxEvals)
	assert.Equal(t, lbfgsb.DefaultBeta, set.Search.Beta)
}

func TestConfigRejectsNegative(t *testing.T) {
	_, err := execute(t, "config", "--m=-1")
	assert.ErrorIs(t, err, lbfgsb.ErrInvalidInput)
}

func TestBindFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("m", 3, "")
	v := viper.New()
	require.NoError(t, bindFlags(v, flags, map[string]string{"m": "m"}))
	require.NoError(t, flags.Parse([]string{"--m=9"}))
	assert.Equal(t, 9, v.GetInt("m"))

	err := bindFlags(v, flags, map[string]string{"pgtol": "pgtol"})
	assert.ErrorContains(t, err, "--pgtol")
}

func TestSolve(t *testing.T) {
	out, err := execute(t, "solve", "quadratic-box", "-n", "4", "--pgtol", "1e-10")
	require.NoError(t, err)

	var rep report
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "quadratic-box", rep.Problem)
	assert.Equal(t, 4, rep.N)
	assert.Equal(t, "analytic", rep.Gradient)
	assert.True(t, rep.OK)
	// ½(1·1 + 2·1 + 3·1 + 4·1)
	assert.InDelta(t, 5.0, rep.F, 1e-8)
	assert.Equal(t, []float64{1, -1, 1, -1}, rep.X)
	assert.LessOrEqual(t, rep.Memory, rep.Iterations)
}

func TestSolveNumericGradient(t *testing.T) {
	out, err := execute(t, "solve", "beale", "--numeric-grad", "central")
	require.NoError(t, err)

	var rep report
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "central", rep.Gradient)
	assert.Less(t, rep.Gap, 1e-4)
}

func TestSolveErrors(t *testing.T) {
	_, err := execute(t, "solve", "himmelblau")
	assert.Error(t, err)

	_, err = execute(t, "solve", "beale", "-n", "3")
	assert.ErrorIs(t, err, lbfgsb.ErrInvalidInput)

	_, err = execute(t, "solve", "beale", "--numeric-grad", "backward")
	assert.Error(t, err)

	out, err := execute(t, "solve", "rosenbrock", "--max-iter", "2")
	require.NoError(t, err)
	var rep report
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	assert.False(t, rep.OK)
	assert.Equal(t, 2, rep.Iterations)
}

func TestBench(t *testing.T) {
	out, err := execute(t, "bench", "quadratic-box", "logsumexp", "rosenbrock-box", "-j", "2")
	require.NoError(t, err)

	var reps []report
	require.NoError(t, yaml.Unmarshal([]byte(out), &reps))
	require.Len(t, reps, 3)
	for i, name := range []string{"quadratic-box", "logsumexp", "rosenbrock-box"} {
		assert.Equal(t, name, reps[i].Problem)
		assert.True(t, reps[i].OK, "%s ended with %s", name, reps[i].Task)
		assert.Less(t, reps[i].Gap, 1e-4, name)
		assert.Nil(t, reps[i].X)
	}
}
