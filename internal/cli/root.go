package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "crdb",
	Short: "Run SQL against CockroachDB with client-side transaction retries",
	Long: `crdb runs SQL inside transactions that are retried on serialization
conflicts (SQLSTATE 40001), using the BEGIN; SAVEPOINT cockroach_restart
protocol CockroachDB expects from its clients.

Connection settings come from, in order of precedence: --connection,
granular flags (-h, -p, -U, -d, --sslmode, ...), COCKROACH_URL or
DATABASE_URL, PG* environment variables, crdb.yaml, and defaults.

Exit Codes:
  0  - Success
  1  - General error
  2  - CLI usage error (invalid arguments or flags)
  3  - Panic or unexpected system error
  10 - Invalid configuration
  11 - Database connection failed
  12 - Serialization conflicts outlasted the retry limit
  13 - The SQL itself failed`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		printVersionInfo()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("help", false, "Help for crdb")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for all commands")
}

// getVerboseFlag safely retrieves the verbose flag value
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to get verbose flag: %v\n", err)
		return false
	}
	return verbose
}
