package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vvka-141/crdb/pkg/crdb"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity with a retried transaction",
	Long: `Ping connects to the database and runs SELECT version() inside a retried
transaction, exercising the full BEGIN / SAVEPOINT / RELEASE / COMMIT cycle.

Examples:
  crdb ping --connection "postgresql://root@localhost:26257/defaultdb?sslmode=disable"
  crdb ping -h crdb.internal -U app --sslmode verify-full --sslrootcert certs/ca.crt
  crdb ping --native`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

var pingFlags connectionFlags

func init() {
	rootCmd.AddCommand(pingCmd)
	registerConnectionFlags(pingCmd, &pingFlags)
}

func runPing(cmd *cobra.Command, _ []string) error {
	s, err := openSession(cmd, &pingFlags)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := commandContext(pingFlags.timeout)
	defer cancel()

	started := time.Now()
	conn, err := s.client.Connect(ctx)
	if err != nil {
		return err
	}
	connected := time.Since(started)

	version, err := crdb.RetryValue(ctx, conn, func(ctx context.Context, tx crdb.Tx) (string, error) {
		var v string
		err := tx.QueryRow(ctx, "SELECT version()").Scan(&v)
		return v, err
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version)
	fmt.Fprintf(cmd.ErrOrStderr(), "driver: %s, connect: %v, total: %v\n",
		s.client.Driver(), connected.Round(time.Millisecond), time.Since(started).Round(time.Millisecond))
	return nil
}
