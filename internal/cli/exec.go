package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vvka-141/crdb/pkg/crdb"
	"golang.org/x/term"
)

var execCmd = &cobra.Command{
	Use:   "exec [statement]",
	Short: "Run SQL inside a retried transaction",
	Long: `Exec runs a SQL statement, or a whole script, as one unit of work. The
unit of work is retried from the start after every serialization conflict,
up to --limit attempts, and committed once it succeeds.

The SQL comes from the argument, from --file, or from stdin when --file is "-".
Piped stdin is read without --file.
Scripts without parameters may contain several statements separated by
semicolons.

Examples:
  crdb exec "UPDATE accounts SET balance = balance - 10 WHERE id = 1"
  crdb exec --file transfer.sql --limit 20
  cat transfer.sql | crdb exec --metrics`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

type execFlagValues struct {
	connectionFlags
	file    string
	limit   int
	metrics bool
}

var execFlags execFlagValues

func init() {
	rootCmd.AddCommand(execCmd)
	registerConnectionFlags(execCmd, &execFlags.connectionFlags)

	execCmd.Flags().StringVarP(&execFlags.file, "file", "f", "",
		"Read SQL from a file (\"-\" for stdin)")
	execCmd.Flags().IntVar(&execFlags.limit, "limit", crdb.DefaultRetryLimit,
		"Maximum number of attempts")
	execCmd.Flags().BoolVar(&execFlags.metrics, "metrics", false,
		"Print retry metrics in the Prometheus text format after the run")
}

// readStatement returns the SQL to run from exactly one of the argument or
// --file. With neither, stdin is read when it is piped.
func readStatement(args []string, file string, stdin io.Reader) (string, error) {
	if len(args) > 0 && file != "" {
		return "", fmt.Errorf("provide SQL either as an argument or with --file, not both: %w", crdb.ErrInvalidConfig)
	}
	if len(args) == 0 && file == "" && isPiped(stdin) {
		file = "-"
	}

	var sql string
	switch {
	case len(args) > 0:
		sql = args[0]
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		sql = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read SQL file '%s': %w", file, err)
		}
		sql = string(data)
	}

	if strings.TrimSpace(sql) == "" {
		return "", fmt.Errorf("no SQL to run: pass a statement or --file: %w", crdb.ErrInvalidConfig)
	}
	return sql, nil
}

// isPiped reports whether r is a file that is not a terminal.
func isPiped(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return !term.IsTerminal(int(f.Fd()))
}

func runExec(cmd *cobra.Command, args []string) error {
	sql, err := readStatement(args, execFlags.file, cmd.InOrStdin())
	if err != nil {
		return err
	}

	s, err := openSession(cmd, &execFlags.connectionFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(execFlags.timeout)
	defer cancel()

	conn, err := s.client.Connect(ctx)
	if err != nil {
		return err
	}

	var attempts int
	var affected int64
	err = conn.Retry(ctx, func(ctx context.Context, tx crdb.Tx) error {
		attempts = tx.Attempt()
		tag, err := tx.Exec(ctx, sql)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	}, crdb.WithLimit(s.retryLimit(cmd, execFlags.limit)))

	if execFlags.metrics {
		if mErr := s.writeMetrics(cmd.OutOrStdout()); mErr != nil {
			s.logger.Error("%v", mErr)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "committed after %d attempt(s), %d row(s) affected\n", attempts, affected)
	return nil
}
