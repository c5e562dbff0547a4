// Command dwarfdbg is a minimal terminal front end for pkg/debugger: enough
// to start or attach to a native process, set breakpoints and watchpoints,
// step, and evaluate expressions, without reimplementing the full TUI the
// specification leaves to an external collaborator.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dwarfdbg/dwarfdbg/pkg/config"
	"github.com/dwarfdbg/dwarfdbg/pkg/logflags"
)

var (
	logSpec    string
	logLevel   string
	configPath string
	headless   bool
)

func main() {
	root := &cobra.Command{
		Use:   "dwarfdbg",
		Short: "a native DWARF debugger engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("dwarfdbg: parsing --log-level: %w", err)
			}
			return logflags.Setup(logSpec, lvl)
		},
	}
	root.PersistentFlags().StringVar(&logSpec, "log", "", "comma separated subsystem list to log (tracer,bp,dwarf,dqe,stack,debugger or \"all\")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "logrus level for --log output")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults built in if unset)")
	root.PersistentFlags().BoolVar(&headless, "headless", false, "read commands from stdin instead of an interactive REPL")

	root.AddCommand(execCmd(), attachCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execCmd() *cobra.Command {
	var argvStr string
	cmd := &cobra.Command{
		Use:   "exec <path> [--args \"args...\"]",
		Short: "spawn and debug a fresh process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var childArgs []string
			if argvStr != "" {
				split, err := splitArgv(argvStr)
				if err != nil {
					return fmt.Errorf("dwarfdbg: parsing --args: %w", err)
				}
				childArgs = split
			}
			return runExec(cfg, args[0], childArgs)
		},
	}
	cmd.Flags().StringVar(&argvStr, "args", "", "shell-quoted argument string passed to the spawned process")
	return cmd
}

func attachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach <pid> <path>",
		Short: "attach to an already running process",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("dwarfdbg: parsing pid %q: %w", args[0], err)
			}
			return runAttach(cfg, pid, args[1])
		},
	}
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
