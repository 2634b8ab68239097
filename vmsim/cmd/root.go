// Package cmd provides the command-line interface for vmsim.
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tebeka/atexit"
)

// envPrefix starts the environment variables that set flag defaults. The flag
// --num-frames is read from VMSIM_NUM_FRAMES.
const envPrefix = "VMSIM_"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vmsim",
	Short: "vmsim runs synthetic programs on a demand-paged memory system.",
	Long: `vmsim runs synthetic programs on a demand-paged memory system ` +
		`backed by swap. It can record every paging event into a SQLite ` +
		`database, log events, and serve the live state of the system ` +
		`over HTTP. Flags can also be set with VMSIM_* environment ` +
		`variables or a .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")

		err := loadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		if err != nil {
			return err
		}

		return applyEnv(cmd.Flags())
	},
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env",
		"File with VMSIM_* settings")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// loadEnvFile loads the settings in path into the environment. Variables
// that are already set win. A missing file is only an error if the user asked
// for it.
func loadEnvFile(path string, required bool) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}

	return err
}

// applyEnv sets the flags the user did not give on the command line from the
// environment.
func applyEnv(flags *pflag.FlagSet) error {
	var errs []error

	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}

		key := envPrefix +
			strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))

		value, found := os.LookupEnv(key)
		if !found {
			return
		}

		if err := flags.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	})

	return errors.Join(errs...)
}
