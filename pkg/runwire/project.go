package runwire

// LogRecord is what a project's log sink receives for every inbound log event.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Series    string `json:"series,omitempty"`
	Whom      string `json:"whom,omitempty"`
}

// Project is the handle of the project a client is bound to.
type Project interface {
	// ID scopes every outgoing message.
	ID() string
	// NameOrID is the display name used in user-facing notices.
	NameOrID() string
	// HandleLog receives inbound log events, in addition to listener dispatch.
	HandleLog(record LogRecord)
}

// StaticProject is a Project with a fixed identity and an optional log sink.
type StaticProject struct {
	ProjectID string
	Name      string
	LogSink   func(record LogRecord)
}

func (p *StaticProject) ID() string {
	return p.ProjectID
}

func (p *StaticProject) NameOrID() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ProjectID
}

func (p *StaticProject) HandleLog(record LogRecord) {
	if p.LogSink != nil {
		p.LogSink(record)
	}
}
