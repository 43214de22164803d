package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/client"
	"github.com/tsarna/runwire/pkg/runwire/config"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"github.com/tsarna/runwire/pkg/runwire/otel"
	"go.uber.org/zap"
)

var version = "dev"

// loadConfig reads --config, or returns an empty configuration when the flag
// is not set.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	return cfg, nil
}

// resolveLevel picks the effective log level: --debug wins, then --verbose
// (when no explicit level was asked for), then --log-level, then the config
// file, then info.
func resolveLevel(cfg *config.Config) string {
	level := logLevel
	if level == "" && cfg != nil {
		level = cfg.LogLevel
	}
	if level == "" {
		level = "info"
	}

	if GetDebug() {
		level = "debug"
	} else if GetVerbose() && level == "info" {
		level = "debug"
	}
	return level
}

func setupLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.NewProductionConfig()
	config.Level = zapLevel
	config.Development = GetDebug()

	return config.Build()
}

// setupTracing installs the tracer provider chosen by --trace-exporter. The
// returned function flushes pending spans.
func setupTracing(logger *zap.Logger) (func(), error) {
	shutdown, err := otel.SetupTracing(traceExp, os.Stderr)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}, nil
}

// connection holds what watch and send share: the resolved endpoint, the
// project and the connection tuning from flags and config.
type connection struct {
	endpoint       string
	project        *runwire.StaticProject
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	headers        map[string]string
}

// resolveConnection combines positional arguments with the config file.
// args is either [endpoint, project] or [project], in which case the endpoint
// comes from the config.
func resolveConnection(cmd *cobra.Command, cfg *config.Config, args []string) (*connection, error) {
	var endpoint, projectID string
	switch len(args) {
	case 1:
		endpoint, projectID = cfg.Endpoint, args[0]
	case 2:
		endpoint, projectID = args[0], args[1]
	default:
		return nil, fmt.Errorf("expected [endpoint] <project>, got %d arguments", len(args))
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint given and none configured")
	}

	conn := &connection{
		endpoint:       endpoint,
		project:        &runwire.StaticProject{ProjectID: projectID},
		reconnectDelay: cfg.ReconnectDelay,
		dialTimeout:    cfg.DialTimeout,
		headers:        cfg.Headers,
	}
	if p, ok := cfg.Project(projectID); ok {
		conn.project.Name = p.Name
	}

	if flag := cmd.Flags().Lookup("reconnect-delay"); flag != nil && flag.Changed {
		conn.reconnectDelay, _ = cmd.Flags().GetDuration("reconnect-delay")
	}
	if flag := cmd.Flags().Lookup("dial-timeout"); flag != nil && flag.Changed {
		conn.dialTimeout, _ = cmd.Flags().GetDuration("dial-timeout")
	}
	if flag := cmd.Flags().Lookup("project-name"); flag != nil && flag.Changed {
		conn.project.Name, _ = cmd.Flags().GetString("project-name")
	}

	return conn, nil
}

func (c *connection) newClient(logger *zap.Logger, metrics o11y.MetricsProvider) (*client.Client, error) {
	builder := client.NewClient().
		WithURL(c.endpoint).
		WithProject(c.project).
		WithLogger(logger).
		WithReconnectDelay(c.reconnectDelay).
		WithDialTimeout(c.dialTimeout).
		WithObservability(metrics, otel.NewProvider("runwire", version))
	for key, value := range c.headers {
		builder.WithHeader(key, value)
	}
	return builder.Build()
}
