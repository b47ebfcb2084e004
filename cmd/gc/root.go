package gc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dRec/cmd/util"
	"github.com/ValentinKolb/dRec/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	host *store.Host

	// GarbageCommands represents the garbage collection command group
	GarbageCommands = &cobra.Command{
		Use:                "gc",
		Short:              "Remove unreachable records from a database",
		PersistentPreRunE:  openHost,
		PersistentPostRunE: closeHost,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep [database]",
		Short: "Deletes the records left marked by an interrupted sweep",
		Long: `Deletes the records that are still marked for deletion and not referenced
by any other record. Opening a database already runs a sweep if marks are
left over, this command only reports the result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := util.OpenExisting(cmd.Context(), host, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := d.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("swept %d records\n", n)
			return nil
		},
	}
	collectCmd = &cobra.Command{
		Use:   "collect [database]",
		Short: "Deletes every record that is not reachable from a root record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roots, err := parseRoots(viper.GetString("roots"))
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				return fmt.Errorf("at least one root type is required (--roots)")
			}

			d, err := util.OpenExisting(cmd.Context(), host, args[0])
			if err != nil {
				return err
			}
			defer d.Close()

			n, err := d.Collect(cmd.Context(), roots...)
			if err != nil {
				return err
			}
			fmt.Printf("collected %d records\n", n)
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupStorageFlags(GarbageCommands)

	key := "roots"
	collectCmd.Flags().String(key, "", util.WrapString("Comma separated stable ids of the root record types, e.g. 1,4"))

	GarbageCommands.AddCommand(sweepCmd)
	GarbageCommands.AddCommand(collectCmd)
}

func openHost(cmd *cobra.Command, _ []string) (err error) {
	host, err = util.OpenHost(cmd)
	return err
}

func closeHost(_ *cobra.Command, _ []string) error {
	return host.Close()
}

func parseRoots(s string) ([]uint32, error) {
	var roots []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("invalid root type %q", part)
		}
		roots = append(roots, uint32(v))
	}
	return roots, nil
}
