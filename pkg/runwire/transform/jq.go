// Package transform reshapes inbound messages for display.
package transform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/tsarna/runwire/pkg/runwire"
	"go.uber.org/zap"
)

// JqProjector applies a jq query to the JSON form of a message, i.e. the
// wire envelope with eventType, eventId, payload and so on.
//
// The query has access to the following variables:
//   - $topic: the message topic ("log", "scalar/loss", ...)
//   - $project: the message's project id
//
// Example:
//
//	p, err := transform.NewJqProjector(`select($topic == "scalar/loss") | .payload.y`, logger)
type JqProjector struct {
	query  string
	code   *gojq.Code
	logger *zap.Logger
}

// NewJqProjector compiles query. A nil logger disables error logging.
func NewJqProjector(query string, logger *zap.Logger) (*JqProjector, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", query, err)
	}

	code, err := gojq.Compile(parsed, gojq.WithVariables([]string{"$topic", "$project"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", query, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &JqProjector{query: query, code: code, logger: logger}, nil
}

func (p *JqProjector) Query() string {
	return p.query
}

// Project runs the query against msg and returns every value it emits. An
// empty result means the query filtered the message out.
func (p *JqProjector) Project(ctx context.Context, msg runwire.Message) ([]any, error) {
	input, err := toGeneric(msg)
	if err != nil {
		return nil, err
	}

	iter := p.code.RunWithContext(ctx, input, msg.Topic(), msg.ProjectID)

	var results []any
	for {
		result, ok := iter.Next()
		if !ok {
			break
		}

		if execErr, isErr := result.(error); isErr {
			if haltErr, isHalt := execErr.(*gojq.HaltError); isHalt && haltErr.Value() == nil {
				break
			}
			p.logger.Debug("JQ execution error",
				zap.String("jq_query", p.query),
				zap.String("topic", msg.Topic()),
				zap.Error(execErr),
			)
			return nil, fmt.Errorf("jq query '%s' failed: %w", p.query, execErr)
		}

		results = append(results, result)
	}

	return results, nil
}

// toGeneric converts msg into the maps and slices gojq operates on.
func toGeneric(msg runwire.Message) (any, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message for jq: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message for jq: %w", err)
	}
	return generic, nil
}
