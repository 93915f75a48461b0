package main

import (
	"fmt"
	"sort"

	"github.com/codership/wsrep-lib/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate BOOTSTRAP_FILE",
	Short: "Parse and validate a bootstrap YAML file",
	Long: `Reads a bootstrap YAML file, checks its required fields and enum
values, and parses its providerOptions string as the provider would on
Provider.Connect. Exits non-zero on the first error found.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		b, err := config.LoadBootstrap(path)
		if err != nil {
			return err
		}

		mode, err := b.RollbackModeValue()
		if err != nil {
			return err
		}

		fmt.Printf("node:      %s (%s)\n", b.NodeID, b.Name)
		fmt.Printf("address:   %s\n", b.Address)
		fmt.Printf("working dir: %s\n", b.WorkingDir)
		fmt.Printf("max protocol version: %d\n", b.MaxProtocolVersion)
		fmt.Printf("rollback mode: %s\n", mode)
		fmt.Printf("sst before init: %t\n", b.SSTBeforeInit)
		fmt.Printf("cluster address: %s\n", b.ClusterAddress)

		if b.ProviderOptions == "" {
			fmt.Println("provider options: (none)")
			fmt.Println()
			fmt.Println("OK")
			return nil
		}

		opts, err := config.ParseProviderOptions(b.ProviderOptions)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}

		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("provider options:")
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", k, opts[k])
		}
		fmt.Println()
		fmt.Println("OK")
		return nil
	},
}
