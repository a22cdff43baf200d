package cli

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/vvka-141/crdb/internal/config"
	"github.com/vvka-141/crdb/internal/logging"
	"github.com/vvka-141/crdb/internal/metrics"
	"github.com/vvka-141/crdb/pkg/client"
)

// metricsNamespace prefixes the metrics printed by --metrics.
const metricsNamespace = "crdb"

// session is what a command needs to talk to the database.
type session struct {
	client   *client.Client
	logger   *logging.ZapLogger
	registry *prometheus.Registry
	project  *config.ProjectConfig
}

// openSession resolves the connection and builds a client whose retry events
// feed a private Prometheus registry.
func openSession(cmd *cobra.Command, f *connectionFlags) (*session, error) {
	logger := logging.NewConsoleLogger(getVerboseFlag(cmd))

	cfg, project, err := resolveConnection(f)
	if err != nil {
		return nil, err
	}
	logConnectionVerbose(logger, cfg)

	registry := prometheus.NewRegistry()
	observer, err := metrics.NewPrometheusObserver(metricsNamespace, registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	c, err := client.New(cfg, client.WithLogger(logger), client.WithObserver(observer))
	if err != nil {
		return nil, err
	}

	return &session{client: c, logger: logger, registry: registry, project: project}, nil
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Error("closing client: %v", err)
	}
	_ = s.logger.Sync()
}

// writeMetrics prints the session's metrics in the Prometheus text format.
func (s *session) writeMetrics(w io.Writer) error {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// retryLimit is flagValue unless the flag was left unset and crdb.yaml names
// a limit.
func (s *session) retryLimit(cmd *cobra.Command, flagValue int) int {
	if cmd.Flags().Changed("limit") || s.project == nil || s.project.Retry.Limit <= 0 {
		return flagValue
	}
	return s.project.Retry.Limit
}
