package db

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ValentinKolb/dRec/cmd/util"
	"github.com/ValentinKolb/dRec/lib/store"
	"github.com/spf13/cobra"
)

var (
	host *store.Host

	// DatabaseCommands represents the database admin command group
	DatabaseCommands = &cobra.Command{
		Use:                "db",
		Short:              "Manage the databases of a data directory",
		PersistentPreRunE:  openHost,
		PersistentPostRunE: closeHost,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists all databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := host.Entries(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tID\tENGINE\tCODEC\tCREATED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Physical, e.Engine, e.Codec, e.Created.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
	renameCmd = &cobra.Command{
		Use:   "rename [name] [new name]",
		Short: "Renames a database, its records are not touched",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := host.Rename(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("renamed %s to %s\n", args[0], args[1])
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [name]",
		Short: "Deletes a database with all its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := host.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [name]",
		Short: "Prints statistics and metrics of a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := util.OpenExisting(cmd.Context(), host, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			info := d.Info()
			fmt.Printf("name:      %s\n", d.Name())
			fmt.Printf("id:        %s\n", d.Physical())
			fmt.Printf("engine:    %s\n", info.DbType)
			fmt.Printf("rows:      %d\n", info.Rows)
			fmt.Printf("size:      %d bytes\n", info.SizeBytes)
			fmt.Printf("features:  %v\n", info.SupportedFeatures)

			meta, err := json.MarshalIndent(info.Metadata, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("metadata:  %s\n", meta)

			fmt.Println()
			d.WriteMetrics(os.Stdout)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupStorageFlags(DatabaseCommands)

	DatabaseCommands.AddCommand(listCmd)
	DatabaseCommands.AddCommand(renameCmd)
	DatabaseCommands.AddCommand(deleteCmd)
	DatabaseCommands.AddCommand(infoCmd)
}

func openHost(cmd *cobra.Command, _ []string) (err error) {
	host, err = util.OpenHost(cmd)
	return err
}

func closeHost(_ *cobra.Command, _ []string) error {
	return host.Close()
}
