// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"runtime"

	"github.com/curioloop/lbfgsb/problems"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (c *cli) benchCmd() *cobra.Command {
	var (
		jobs   int
		scheme string
		withX  bool
	)
	cmd := &cobra.Command{
		Use:   "bench [problem...]",
		Short: "Minimize several benchmark problems concurrently",
		Long:  "bench runs every named problem, or all registered ones, at its default dimension.",
		RunE: func(cmd *cobra.Command, args []string) error {
			benches := problems.All()
			if len(args) > 0 {
				benches = benches[:0]
				for _, name := range args {
					b, err := problems.Lookup(name)
					if err != nil {
						return err
					}
					benches = append(benches, b)
				}
			}
			set, err := c.settings()
			if err != nil {
				return err
			}
			log := c.logger(cmd)

			reports := make([]*report, len(benches))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(jobs)
			for i, b := range benches {
				r := run{bench: b, scheme: scheme, set: set, log: log}
				g.Go(func() error {
					rep, err := r.solve(ctx)
					if err != nil {
						return err
					}
					if !withX {
						rep.X = nil
					}
					reports[i] = rep
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), reports)
		},
	}
	cmd.Flags().IntVarP(&jobs, "jobs", "j", runtime.GOMAXPROCS(0), "problems solved at the same time")
	cmd.Flags().StringVar(&scheme, "numeric-grad", "", "estimate the gradient by finite differences (forward or central)")
	cmd.Flags().BoolVar(&withX, "with-x", false, "include the solution vectors in the report")
	return cmd
}
