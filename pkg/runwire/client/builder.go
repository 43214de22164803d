package client

import (
	"fmt"
	"time"

	"github.com/tsarna/runwire/pkg/runwire"
	"github.com/tsarna/runwire/pkg/runwire/o11y"
	"github.com/tsarna/runwire/pkg/runwire/transport"
	"go.uber.org/zap"
)

const DefaultReconnectDelay = 5 * time.Second

// ClientBuilder provides a fluent interface for building project clients.
type ClientBuilder struct {
	url            string
	project        runwire.Project
	logger         *zap.Logger
	notifier       runwire.Notifier
	dialer         transport.Dialer
	reconnectDelay time.Duration
	dialTimeout    time.Duration
	writeTimeout   time.Duration
	headers        map[string]string
	metrics        o11y.MetricsProvider
	tracing        o11y.TracingProvider
}

// NewClient creates a new client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:         zap.NewNop(),
		reconnectDelay: DefaultReconnectDelay,
		dialTimeout:    transport.DefaultDialTimeout,
		writeTimeout:   transport.DefaultWriteTimeout,
	}
}

// WithURL sets the WebSocket endpoint of the project channel.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithProject sets the project every message is scoped to.
func (b *ClientBuilder) WithProject(project runwire.Project) *ClientBuilder {
	b.project = project
	return b
}

func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithNotifier sets the sink for connectivity notices. By default notices
// are written to the client's logger.
func (b *ClientBuilder) WithNotifier(notifier runwire.Notifier) *ClientBuilder {
	b.notifier = notifier
	return b
}

// WithDialer replaces the WebSocket transport. The dial timeout, write
// timeout and header options only apply to the default dialer.
func (b *ClientBuilder) WithDialer(dialer transport.Dialer) *ClientBuilder {
	b.dialer = dialer
	return b
}

// WithReconnectDelay sets the fixed delay between an unexpected disconnect
// and the next connection attempt. Default is 5 seconds.
func (b *ClientBuilder) WithReconnectDelay(delay time.Duration) *ClientBuilder {
	if delay > 0 {
		b.reconnectDelay = delay
	}
	return b
}

func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

func (b *ClientBuilder) WithWriteTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.writeTimeout = timeout
	}
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string]string)
	}
	b.headers[key] = value
	return b
}

func (b *ClientBuilder) WithMetrics(provider o11y.MetricsProvider) *ClientBuilder {
	b.metrics = provider
	return b
}

func (b *ClientBuilder) WithTracing(provider o11y.TracingProvider) *ClientBuilder {
	b.tracing = provider
	return b
}

// WithObservability sets both metrics and tracing providers.
func (b *ClientBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *ClientBuilder {
	b.metrics = metrics
	b.tracing = tracing
	return b
}

// IsValid checks that all required configuration is present and fills in
// defaults for the rest.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}

	if b.project == nil {
		return fmt.Errorf("project is required")
	}

	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.reconnectDelay <= 0 {
		b.reconnectDelay = DefaultReconnectDelay
	}

	if b.dialTimeout <= 0 {
		b.dialTimeout = transport.DefaultDialTimeout
	}

	if b.writeTimeout <= 0 {
		b.writeTimeout = transport.DefaultWriteTimeout
	}

	return nil
}

// Build creates a client with the configured options. The client does not
// connect until Start is called.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger.With(
		zap.String("project_id", b.project.ID()),
		zap.String("url", b.url),
	)

	notifier := b.notifier
	if notifier == nil {
		notifier = runwire.NewLoggingNotifier(logger)
	}

	dialer := b.dialer
	if dialer == nil {
		wsDialer := transport.NewWebSocketDialer().
			WithLogger(logger).
			WithDialTimeout(b.dialTimeout).
			WithWriteTimeout(b.writeTimeout)
		for key, value := range b.headers {
			wsDialer.WithHeader(key, value)
		}
		dialer = wsDialer
	}

	var tracing o11y.TracingProvider = o11y.NopProvider{}
	if b.tracing != nil {
		tracing = b.tracing
	}

	return &Client{
		url:            b.url,
		project:        b.project,
		logger:         logger,
		notifier:       notifier,
		dialer:         dialer,
		reconnectDelay: b.reconnectDelay,
		metrics:        newClientMetrics(b.metrics, b.project.ID()),
		tracer:         tracing,
		ready:          runwire.NewValue(false),
		closed:         make(chan struct{}),
		state:          StateConnecting,
		nextID:         newIDSeed(),
		pending:        newPendingTable(),
	}, nil
}
