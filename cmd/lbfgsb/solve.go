// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"io"
	"math"
	"time"

	"github.com/curioloop/lbfgsb/lbfgsb"
	"github.com/curioloop/lbfgsb/numdiff"
	"github.com/curioloop/lbfgsb/problems"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// report is the YAML record of one run.
type report struct {
	Problem     string    `yaml:"problem"`
	N           int       `yaml:"n"`
	Gradient    string    `yaml:"gradient"`
	Task        string    `yaml:"task"`
	OK          bool      `yaml:"ok"`
	F           float64   `yaml:"f"`
	Optimum     float64   `yaml:"optimum"`
	Gap         float64   `yaml:"gap"`
	ProjGrad    float64   `yaml:"projg"`
	Iterations  int       `yaml:"iterations"`
	Evaluations int       `yaml:"evaluations"`
	Memory      int       `yaml:"memory"`
	Skipped     int       `yaml:"skipped,omitempty"`
	Refreshes   int       `yaml:"refreshes,omitempty"`
	Elapsed     string    `yaml:"elapsed"`
	X           []float64 `yaml:"x,flow,omitempty"`
	Error       string    `yaml:"error,omitempty"`
}

// run is one benchmark configured for the solver.
type run struct {
	bench  problems.Benchmark
	n      int
	scheme string // empty for the analytic gradient
	set    *lbfgsb.Settings
	log    *lbfgsb.Logger
}

func (r run) solve(ctx context.Context) (*report, error) {
	p, x0, err := r.bench.Setup(r.n, r.set)
	if err != nil {
		return nil, err
	}

	eval := lbfgsb.Evaluator(r.bench.Eval)
	grad := "analytic"
	if r.scheme != "" {
		scheme, err := numdiff.ParseScheme(r.scheme)
		if err != nil {
			return nil, err
		}
		gr := &numdiff.Gradient{Func: r.bench.Func, Scheme: scheme, Bounds: p.Bounds}
		eval = gr.Evaluator()
		grad = scheme.String()
	}

	began := time.Now()
	res, err := lbfgsb.Minimize(ctx, p, x0, eval, r.log)
	if res == nil {
		return nil, err
	}
	rep := &report{
		Problem:     r.bench.Name,
		N:           p.N,
		Gradient:    grad,
		Task:        res.Task.String(),
		OK:          res.OK,
		F:           res.F,
		Optimum:     r.bench.Optimum,
		Gap:         math.Abs(res.F - r.bench.Optimum),
		ProjGrad:    res.Stats.ProjGrad,
		Iterations:  res.Stats.Iterations,
		Evaluations: res.Stats.Evaluations,
		Memory:      res.Stats.Updates,
		Skipped:     res.Stats.Skipped,
		Refreshes:   res.Stats.Refreshes,
		Elapsed:     time.Since(began).Round(time.Microsecond).String(),
		X:           res.X,
	}
	if err != nil {
		rep.Error = err.Error()
	}
	return rep, nil
}

func (c *cli) solveCmd() *cobra.Command {
	var (
		n      int
		scheme string
	)
	cmd := &cobra.Command{
		Use:       "solve <problem>",
		Short:     "Minimize one benchmark problem",
		Args:      cobra.ExactArgs(1),
		ValidArgs: problems.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := problems.Lookup(args[0])
			if err != nil {
				return err
			}
			set, err := c.settings()
			if err != nil {
				return err
			}
			rep, err := run{bench: b, n: n, scheme: scheme, set: set, log: c.logger(cmd)}.solve(cmd.Context())
			if err != nil {
				return err
			}
			if err := writeYAML(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			if rep.Error != "" {
				return errors.New(rep.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "dim", "n", 0, "problem dimension (0 selects the default)")
	cmd.Flags().StringVar(&scheme, "numeric-grad", "", "estimate the gradient by finite differences (forward or central)")
	return cmd
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
