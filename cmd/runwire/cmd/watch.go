package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/client"
	"github.com/tsarna/runwire/pkg/runwire/config"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"github.com/tsarna/runwire/pkg/runwire/subutils"
	"github.com/tsarna/runwire/pkg/runwire/transform"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var watchCmd = &cobra.Command{
	Use:   "watch [endpoint] <project>",
	Short: "Connect to a project channel and print its events",
	Long: `Connect to the channel of a project and print every event it pushes,
one per line as "topic<TAB>json". Log events are also printed as
"[series] whom: message". The connection is re-established after drops
until the command is interrupted.

The endpoint may be omitted when the configuration file sets one.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("topic", "t", "#", "only print events whose topic matches this pattern")
	watchCmd.Flags().String("jq", "", "jq query applied to each event before printing")
	watchCmd.Flags().String("status-schedule", "", "cron spec for periodic connection status reports")
	watchCmd.Flags().Duration("reconnect-delay", 0, "delay between reconnect attempts")
	watchCmd.Flags().Duration("dial-timeout", 0, "timeout for each connection attempt")
	watchCmd.Flags().String("project-name", "", "display name of the project")
	watchCmd.Flags().Int("queue-size", 100, "events buffered for printing; events arriving while the buffer is full are dropped with a warning")
	watchCmd.Flags().StringSlice("exclude", nil, "drop events whose topic matches this pattern (repeatable)")
	watchCmd.Flags().String("run", "", "only print events of this run")
	watchCmd.Flags().Duration("rate-limit", 0, "print at most one event per topic in this interval")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := setupLogger(resolveLevel(cfg))
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	flushTraces, err := setupTracing(logger)
	if err != nil {
		return err
	}
	defer flushTraces()

	conn, err := resolveConnection(cmd, cfg, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	conn.project.LogSink = func(record runwire.LogRecord) {
		fmt.Fprintln(out, formatLogRecord(record))
	}

	metrics := o11y.NewMemoryProvider()
	c, err := conn.newClient(logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	printer := &printingListener{out: out}
	if query, _ := cmd.Flags().GetString("jq"); query != "" {
		printer.projector, err = transform.NewJqProjector(query, logger)
		if err != nil {
			return err
		}
	}

	queueSize, _ := cmd.Flags().GetInt("queue-size")
	async := subutils.NewAsyncListener(
		subutils.NewTransformingListener(
			subutils.NewNamedLoggingListener(printer, logger, zapcore.DebugLevel, "printer"),
			watchTransforms(cmd)...,
		),
		queueSize,
	).WithLogger(logger).Start()
	defer async.Close()

	pattern, _ := cmd.Flags().GetString("topic")
	c.SubscribeTopic(pattern, async)

	stopWatch := c.Ready().Watch(func(ready bool) {
		logger.Debug("Connection state changed", zap.Bool("ready", ready))
	})
	defer stopWatch()

	schedule, _ := cmd.Flags().GetString("status-schedule")
	if schedule == "" {
		schedule = cfg.StatusSchedule
	}
	if schedule != "" {
		scheduler, err := newStatusScheduler(schedule, c, metrics, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("Watching project",
		zap.String("endpoint", conn.endpoint),
		zap.String("project_id", conn.project.ID()),
		zap.String("topic", pattern),
	)

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	<-c.Done()
	logger.Info("Shutting down")
	return nil
}

// printingListener writes each event as "topic<TAB>json", or one line per jq
// result when a projector is set.
type printingListener struct {
	out       io.Writer
	projector *transform.JqProjector
}

func (p *printingListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	if p.projector == nil {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		fmt.Fprintf(p.out, "%s\t%s\n", msg.Topic(), data)
		return nil
	}

	results, err := p.projector.Project(ctx, msg)
	if err != nil {
		return err
	}
	for _, result := range results {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintf(p.out, "%s\t%s\n", msg.Topic(), data)
	}
	return nil
}

// watchTransforms builds the display filters selected on the command line.
func watchTransforms(cmd *cobra.Command) []transform.MessageTransformFunc {
	var transforms []transform.MessageTransformFunc

	excluded, _ := cmd.Flags().GetStringSlice("exclude")
	for _, pattern := range excluded {
		transforms = append(transforms, transform.DropTopicPattern(pattern))
	}
	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		transforms = append(transforms, transform.KeepRun(runID))
	}
	if interval, _ := cmd.Flags().GetDuration("rate-limit"); interval > 0 {
		transforms = append(transforms, transform.RateLimitByTopic(interval))
	}
	return transforms
}

func formatLogRecord(record runwire.LogRecord) string {
	var b strings.Builder
	if record.Series != "" {
		fmt.Fprintf(&b, "[%s] ", record.Series)
	}
	if record.Whom != "" {
		b.WriteString(record.Whom)
		b.WriteString(": ")
	}
	b.WriteString(record.Message)
	return b.String()
}

// newStatusScheduler builds a cron scheduler that periodically logs the state
// of c and the traffic counters collected in metrics.
func newStatusScheduler(spec string, c *client.Client, metrics *o11y.MemoryProvider, logger *zap.Logger) (*cron.Cron, error) {
	scheduler := cron.New(
		cron.WithParser(config.ScheduleParser),
		cron.WithLogger(NewZapCronLogger(logger)),
	)

	_, err := scheduler.AddFunc(spec, func() {
		reportStatus(c, metrics, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid status schedule %q: %w", spec, err)
	}
	return scheduler, nil
}

func reportStatus(c *client.Client, metrics *o11y.MemoryProvider, logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("state", c.State().String()),
		zap.Bool("ready", c.Ready().Get()),
		zap.Int("pending", c.PendingCount()),
	}

	snapshot := metrics.Snapshot()
	for name, value := range snapshot.Counters {
		fields = append(fields, zap.Int64(name, value))
	}
	logger.Info("Connection status", fields...)
}
