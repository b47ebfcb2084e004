package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dRec/cmd/db"
	"github.com/ValentinKolb/dRec/cmd/gc"
	"github.com/ValentinKolb/dRec/cmd/rows"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "drec",
		Short: "embedded object-graph store",
		Long: fmt.Sprintf(`dRec (v%s)

An embedded object-graph persistence engine written in Go. Records are
stored in named databases, references between them are followed on load
and unreachable records are swept automatically.

This tool administers the databases of a data directory.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dRec",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dRec v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(db.DatabaseCommands)
	RootCmd.AddCommand(rows.RowCommands)
	RootCmd.AddCommand(gc.GarbageCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
