package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"go.uber.org/zap"
)

var sendCmd = &cobra.Command{
	Use:   "send <endpoint> <project> <eventType> [name] [json-payload]",
	Short: "Send one message to a project channel and print the reply",
	Long: `Connect to the channel of a project, wait for the handshake, send one
message and print the reply as JSON.

Examples:
  runwire send ws://localhost:8080/ws p1 action stop
  runwire send ws://localhost:8080/ws p1 action restart '{"name":"restart","args":{"force":"1"}}'
  runwire send --no-reply ws://localhost:8080/ws p1 scalar loss '{"series":"loss","x":1,"y":0.5}'`,
	Args: cobra.RangeArgs(3, 5),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().Duration("timeout", 10*time.Second, "how long to wait for the connection and the reply")
	sendCmd.Flags().Bool("no-reply", false, "do not wait for a reply")
	sendCmd.Flags().String("run-id", "", "run the message is addressed to")
	sendCmd.Flags().Duration("dial-timeout", 0, "timeout for each connection attempt")
	sendCmd.Flags().String("project-name", "", "display name of the project")
}

func runSend(cmd *cobra.Command, args []string) error {
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

	conn, err := resolveConnection(cmd, cfg, args[:2])
	if err != nil {
		return err
	}

	var name, payload string
	if len(args) > 3 {
		name = args[3]
	}
	if len(args) > 4 {
		payload = args[4]
	}
	msg, err := buildMessage(runwire.EventType(args[2]), name, payload)
	if err != nil {
		return err
	}
	msg.RunID, _ = cmd.Flags().GetString("run-id")

	c, err := conn.newClient(logger, o11y.NopProvider{})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}
	defer c.Close()

	if err := c.WaitReady(ctx); err != nil {
		return fmt.Errorf("connection to %s not ready: %w", conn.endpoint, err)
	}

	if noReply, _ := cmd.Flags().GetBool("no-reply"); noReply {
		id, err := c.Send(ctx, msg, nil)
		if err != nil {
			return err
		}
		logger.Info("Message sent", zap.Int64("event_id", id))
		return nil
	}

	reply, err := c.Request(ctx, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("no reply within %s: %w", timeout, err)
		}
		return err
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// buildMessage assembles an outgoing message from command-line arguments. The
// payload, when given, must be JSON matching the event type. An action
// without a payload gets one naming the action.
func buildMessage(eventType runwire.EventType, name, payload string) (runwire.Message, error) {
	if eventType == "" {
		return runwire.Message{}, fmt.Errorf("event type is required")
	}

	if payload == "" {
		msg := runwire.Message{EventType: eventType, Name: name}
		if eventType == runwire.EventTypeAction && name != "" {
			msg.Payload = runwire.ActionPayload{Name: name}
		}
		return msg, nil
	}

	if !json.Valid([]byte(payload)) {
		return runwire.Message{}, fmt.Errorf("payload is not valid JSON: %s", payload)
	}

	envelope, err := json.Marshal(map[string]any{
		"eventType": eventType,
		"name":      name,
		"payload":   json.RawMessage(payload),
	})
	if err != nil {
		return runwire.Message{}, err
	}

	msg, err := runwire.DecodeMessage(envelope)
	if err != nil {
		return runwire.Message{}, fmt.Errorf("invalid payload for %s: %w", eventType, err)
	}
	return msg, nil
}
