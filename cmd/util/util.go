package util

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ValentinKolb/dRec/lib/common"
	"github.com/ValentinKolb/dRec/lib/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStorageFlags adds the flags describing the data directory to a command
func SetupStorageFlags(cmd *cobra.Command) {
	defaults := common.DefaultConfig()

	key := "data-dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory containing the catalog and the databases"))

	key = "engine"
	cmd.PersistentFlags().String(key, defaults.Engine, WrapString("Table engine for new databases (maple, badger). Existing databases keep their engine"))

	key = "codec"
	cmd.PersistentFlags().String(key, defaults.Codec, WrapString("Record codec for new databases (json, gob, binary). Existing databases keep their codec"))

	key = "sync-writes"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether the badger engine syncs every write to disk"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("drec")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetConfig reads the host configuration from viper
func GetConfig() common.Config {
	conf := common.DefaultConfig()
	conf.DataDir = viper.GetString("data-dir")
	conf.Engine = viper.GetString("engine")
	conf.Codec = viper.GetString("codec")
	conf.SyncWrites = viper.GetBool("sync-writes")
	conf.LogLevel = viper.GetString("log-level")
	return conf
}

// OpenHost binds the flags of cmd and opens the configured data directory
func OpenHost(cmd *cobra.Command) (*store.Host, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, err
	}
	conf := GetConfig()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	common.InitLoggers(conf)
	return store.NewHost(conf)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// OpenExisting opens the database called name without record types.
// Unlike Host.Open it does not create missing databases.
func OpenExisting(ctx context.Context, host *store.Host, name string) (*store.Database, error) {
	names, err := host.Names(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		return nil, fmt.Errorf("%w: %s", store.ErrDatabaseNotFound, name)
	}
	return host.Open(ctx, name)
}
