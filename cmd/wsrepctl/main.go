package main

import (
	"fmt"
	"os"

	"github.com/codership/wsrep-lib/pkg/wsreplog"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "wsrepctl",
	Short: "Inspect and validate wsrep-lib bootstrap configuration",
	Long: `wsrepctl is a small operator tool around the wsrep-lib replication
core: it validates bootstrap configuration files and provider option
strings before a server tries to connect, and prints the transaction,
client, and server state machine diagrams for reference.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statesCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	wsreplog.Init(wsreplog.Config{
		Level:      wsreplog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
