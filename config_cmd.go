package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Long:  "Prints the resolved configuration: the config file at --config (or the platform default path) with absent keys filled from built-in defaults.",
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Holder.Config()

	if cc.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(cfg)
	}

	fmt.Printf("# %s\n", configPathForDisplay(cc))

	enc := toml.NewEncoder(os.Stdout)

	return enc.Encode(cfg)
}

func configPathForDisplay(cc *CLIContext) string {
	if path := cc.Holder.Path(); path != "" {
		return path
	}

	return "(no config file, using defaults)"
}
