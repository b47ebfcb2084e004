package rows

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dRec/cmd/util"
	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/record"
	"github.com/ValentinKolb/dRec/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	host *store.Host

	// RowCommands represents the raw record command group
	RowCommands = &cobra.Command{
		Use:                "rows",
		Short:              "Inspect the stored records of a database",
		Long:               "Inspect the stored records of a database. The record types do not need to be known, rows are printed as stored.",
		PersistentPreRunE:  openHost,
		PersistentPostRunE: closeHost,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [database]",
		Short: "Prints the stored records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := util.OpenExisting(cmd.Context(), host, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			stable := uint32(viper.GetUint("stable"))
			if stable == 0 {
				stable = db.AllTags
			}
			asJSON := viper.GetString("format") == "json"
			enc := json.NewEncoder(os.Stdout)

			var writeErr error
			err = d.Rows(cmd.Context(), stable, func(id record.ID, row codec.Row) bool {
				if asJSON {
					writeErr = enc.Encode(struct {
						ID record.ID `json:"id"`
						codec.Row
					}{id, row})
				} else {
					_, writeErr = fmt.Println(formatRow(id, row))
				}
				return writeErr == nil
			})
			if err != nil {
				return err
			}
			return writeErr
		},
	}
	edgesCmd = &cobra.Command{
		Use:   "edges [database]",
		Short: "Prints every stored reference as 'from -> to'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := util.OpenExisting(cmd.Context(), host, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			n := 0
			err = d.EachEdge(cmd.Context(), func(from, to record.ID) bool {
				fmt.Printf("%d -> %d\n", from, to)
				n++
				return true
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d edges\n", n)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupStorageFlags(RowCommands)

	key := "stable"
	dumpCmd.Flags().Uint(key, 0, util.WrapString("Only print records with this stable id (0 prints all records)"))
	key = "format"
	dumpCmd.Flags().String(key, "text", util.WrapString("Output format (text, json)"))

	RowCommands.AddCommand(dumpCmd)
	RowCommands.AddCommand(edgesCmd)
}

func openHost(cmd *cobra.Command, _ []string) (err error) {
	host, err = util.OpenHost(cmd)
	return err
}

func closeHost(_ *cobra.Command, _ []string) error {
	return host.Close()
}

// formatRow prints a row as "id [stable] name=value ..."
func formatRow(id record.ID, row codec.Row) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d [%d]", id, row.Stable)
	for _, f := range row.Fields {
		sb.WriteString(" ")
		sb.WriteString(f.Name)
		sb.WriteString("=")
		sb.WriteString(formatField(f))
	}
	return sb.String()
}

func formatField(f codec.Field) string {
	switch f.Kind {
	case codec.KindString:
		return fmt.Sprintf("%q", f.Str)
	case codec.KindInt:
		return fmt.Sprintf("%d", f.Int)
	case codec.KindFloat:
		return fmt.Sprintf("%g", f.Float)
	case codec.KindBool:
		return fmt.Sprintf("%t", f.Bool)
	case codec.KindBytes:
		return fmt.Sprintf("0x%x", f.Bytes)
	case codec.KindStrings:
		return fmt.Sprintf("%q", f.Strs)
	case codec.KindRef:
		if f.Int == 0 {
			return "null"
		}
		return fmt.Sprintf("@%d", f.Int)
	case codec.KindRefs:
		refs := make([]string, len(f.Refs))
		for i, r := range f.Refs {
			refs[i] = fmt.Sprintf("@%d", r)
		}
		return "[" + strings.Join(refs, " ") + "]"
	default:
		return "?"
	}
}
