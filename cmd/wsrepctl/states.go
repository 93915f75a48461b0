package main

import (
	"fmt"

	"github.com/codership/wsrep-lib/pkg/server"
	"github.com/codership/wsrep-lib/pkg/txn"
	"github.com/spf13/cobra"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Print the transaction, client, and server state machine diagrams",
	RunE: func(cmd *cobra.Command, args []string) error {
		printTransactionStates()
		fmt.Println()
		printClientStates()
		fmt.Println()
		printServerStates()
		return nil
	},
}

func printTransactionStates() {
	fmt.Println("transaction states:")
	for _, s := range txn.States() {
		edges := txn.Transitions(s)
		if len(edges) == 0 {
			fmt.Printf("  %-14s (terminal)\n", s)
			continue
		}
		fmt.Printf("  %-14s -> %s\n", s, joinStates(edges))
	}
}

func printServerStates() {
	fmt.Println("server states:")
	for _, s := range server.States() {
		edges := server.Transitions(s)
		if len(edges) == 0 {
			fmt.Printf("  %-14s (terminal)\n", s)
			continue
		}
		fmt.Printf("  %-14s -> %s\n", s, joinServerStates(edges))
	}
}

func printClientStates() {
	fmt.Println("client states (one command at a time, per connection):")
	fmt.Println("  idle     -> exec      (BeforeCommand)")
	fmt.Println("  exec     -> result    (AfterCommandBeforeResult)")
	fmt.Println("  result   -> idle      (AfterCommandAfterResult)")
	fmt.Println("  idle     -> quitting  (Quit on connection close)")
	fmt.Println("  result   -> quitting  (Quit on connection close)")
}

func joinStates(states []txn.State) string {
	out := ""
	for i, s := range states {
		if i > 0 {
			out += ", "
		}
		out += s.String()
	}
	return out
}

func joinServerStates(states []server.State) string {
	out := ""
	for i, s := range states {
		if i > 0 {
			out += ", "
		}
		out += s.String()
	}
	return out
}
