package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "tavern",
		Short:         "Retrieval-augmented role-play conversations between tabletop characters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to tavern.yaml (embedded defaults when empty)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(sceneCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(loreCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
