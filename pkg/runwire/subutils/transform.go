package subutils

import (
	"context"

	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/transform"
)

// TransformingListener runs each message through a transform pipeline and
// passes whatever survives to the wrapped listener.
//
// Example:
//
//	l := subutils.NewTransformingListener(printer,
//	    transform.DropTopicPattern("log/#"),
//	    transform.KeepRun("run-42"),
//	)
type TransformingListener struct {
	wrapped    runwire.Listener
	transforms []transform.MessageTransformFunc
}

func NewTransformingListener(wrapped runwire.Listener, transforms ...transform.MessageTransformFunc) *TransformingListener {
	return &TransformingListener{
		wrapped:    wrapped,
		transforms: transforms,
	}
}

func (t *TransformingListener) OnMessage(ctx context.Context, msg runwire.Message) error {
	if len(t.transforms) == 0 {
		return t.wrapped.OnMessage(ctx, msg)
	}

	transformed, _ := transform.ApplyTransforms(&msg, t.transforms)
	if transformed == nil {
		return nil
	}
	return t.wrapped.OnMessage(ctx, *transformed)
}
