// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/curioloop/lbfgsb/lbfgsb"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cli carries the state shared by the subcommands.
type cli struct {
	v          *viper.Viper
	configPath string
	logLevel   int
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:   "lbfgsb",
		Short: "Bound constrained minimization with L-BFGS-B",
		Long: `lbfgsb runs the limited memory BFGS method for bound constrained problems
on a set of benchmark objectives and prints a YAML report of every run.

Settings come from, in decreasing priority: flags, LBFGSB_* environment
variables, the --config file and the built-in defaults.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "YAML settings file")
	flags.IntVar(&c.logLevel, "log-level", int(lbfgsb.LogNoop), "trace level of the solver (-1 silent, 0 last, 1 every iteration, 99 detailed)")
	flags.Int("m", lbfgsb.DefaultM, "number of correction pairs")
	flags.Float64("factr", lbfgsb.DefaultFactr, "relative reduction tolerance in units of machine epsilon")
	flags.Float64("pgtol", lbfgsb.DefaultPgtol, "projected gradient tolerance")
	flags.Int("max-iter", 0, "iteration limit (0 means none)")
	flags.Int("max-eval", 0, "evaluation limit (0 means none)")

	if err := bindFlags(c.v, flags, settingFlags); err != nil {
		panic(err)
	}

	def := lbfgsb.DefaultSettings()
	c.v.SetDefault("line_search.alpha", def.Search.Alpha)
	c.v.SetDefault("line_search.beta", def.Search.Beta)
	c.v.SetDefault("line_search.eps", def.Search.Eps)
	c.v.SetDefault("line_search.max_evals", def.Search.MaxEvals)

	c.v.SetEnvPrefix("LBFGSB")
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(c.solveCmd(), c.benchCmd(), c.configCmd())
	return root
}

// settingFlags maps the settings keys to the flags overriding them.
var settingFlags = map[string]string{
	"m":               "m",
	"factr":           "factr",
	"pgtol":           "pgtol",
	"max_iterations":  "max-iter",
	"max_evaluations": "max-eval",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("no flag --%s for setting %q", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

func (c *cli) load() error {
	if c.configPath == "" {
		return nil
	}
	c.v.SetConfigFile(c.configPath)
	c.v.SetConfigType("yaml")
	if err := c.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", c.configPath, err)
	}
	return nil
}

// settings merges every configuration source into validated solver settings.
func (c *cli) settings() (*lbfgsb.Settings, error) {
	set := new(lbfgsb.Settings)
	if err := c.v.Unmarshal(set); err != nil {
		return nil, fmt.Errorf("%w: %v", lbfgsb.ErrInvalidInput, err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// logger sends the solver trace to the command's error stream.
func (c *cli) logger(cmd *cobra.Command) *lbfgsb.Logger {
	level := lbfgsb.LogLevel(c.logLevel)
	if level < lbfgsb.LogLast {
		return nil
	}
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	if level > lbfgsb.LogEval {
		log.SetLevel(logrus.DebugLevel)
	}
	return &lbfgsb.Logger{Level: level, Sink: log}
}

func (c *cli) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := c.settings()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), set.String())
			return err
		},
	}
}
