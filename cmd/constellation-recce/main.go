// Command constellation-recce is a small operator-facing diagnostic tool,
// not part of the linked library's public surface: it parses the current
// environment the same way internal/config does and prints what a
// process would see, handy when debugging a fabric deployment by hand.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/constellation-run/constellation-go/internal/config"
	"github.com/constellation-run/constellation-go/internal/runtimeinfo"
	"github.com/constellation-run/constellation-go/pkg/pid"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "constellation-recce",
		Short: "Inspect the constellation environment of the current shell",
	}
	root.AddCommand(newEnvCmd())
	root.AddCommand(newSizeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Print the parsed CONSTELLATION_* configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("format:      %q\n", cfg.Format)
			fmt.Printf("deploy:      %q (deployed=%v)\n", cfg.Deploy, cfg.Deployed())
			fmt.Printf("resources:   memory=%d cpu=%.2f (explicit=%v)\n",
				cfg.Resources.Memory, cfg.Resources.CPU, cfg.HasResources)
			return nil
		},
	}
}

func newSizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <value>",
		Short: "Parse a binary-unit memory size such as 4KiB or 7GiB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := pid.ParseBinarySize(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%d bytes\n", n)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print this build's version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(runtimeinfo.Version)
			return nil
		},
	}
}
