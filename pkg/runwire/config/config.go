// Package config loads the console's HCL configuration file.
//
//	endpoint        = "ws://${env.RUNWIRE_HOST}/ws"
//	log_level       = "info"
//	reconnect_delay = "5s"         # number of seconds, Go duration or ISO 8601 ("PT5S")
//	dial_timeout    = 30
//	status_schedule = "@every 30s" # cron spec
//	headers         = { "X-Console" = "web" }
//
//	project "p1" {
//	  name = "demo"
//	}
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/robfig/cron/v3"
	"github.com/zclconf/go-cty/cty"
)

// ScheduleParser parses status_schedule. Standard five-field specs, an
// optional leading seconds field and descriptors such as "@every 30s" are
// accepted.
var ScheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config is the evaluated configuration. Zero values mean "not set"; the
// caller falls back to its own defaults.
type Config struct {
	Endpoint       string
	LogLevel       string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	StatusSchedule string
	Headers        map[string]string
	Projects       []ProjectConfig
}

type ProjectConfig struct {
	ID   string
	Name string
}

// Project returns the project block with the given id.
func (c *Config) Project(id string) (ProjectConfig, bool) {
	for _, p := range c.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return ProjectConfig{}, false
}

type fileContent struct {
	Endpoint       string            `hcl:"endpoint,optional"`
	LogLevel       string            `hcl:"log_level,optional"`
	ReconnectDelay hcl.Expression    `hcl:"reconnect_delay,optional"`
	DialTimeout    hcl.Expression    `hcl:"dial_timeout,optional"`
	StatusSchedule string            `hcl:"status_schedule,optional"`
	Headers        map[string]string `hcl:"headers,optional"`
	Projects       []projectBlock    `hcl:"project,block"`
}

type projectBlock struct {
	ID   string `hcl:"id,label"`
	Name string `hcl:"name,optional"`
}

// Load parses and evaluates the file at path.
func Load(path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(file.Body)
}

// LoadBytes parses and evaluates src. filename is only used in diagnostics.
func LoadBytes(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}
	return decode(file.Body)
}

// NewEvalContext returns the evaluation context configuration expressions
// are evaluated in: an env object holding the process environment, and the
// function library.
func NewEvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": GetEnvObject(),
		},
		Functions: GetFunctions(),
	}
}

func decode(body hcl.Body) (*Config, error) {
	evalCtx := NewEvalContext()

	var content fileContent
	diags := gohcl.DecodeBody(body, evalCtx, &content)
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := &Config{
		Endpoint:       content.Endpoint,
		LogLevel:       content.LogLevel,
		StatusSchedule: content.StatusSchedule,
		Headers:        content.Headers,
	}

	if IsExpressionProvided(content.ReconnectDelay) {
		d, durDiags := ParseDuration(evalCtx, content.ReconnectDelay)
		diags = diags.Extend(durDiags)
		cfg.ReconnectDelay = d
	}

	if IsExpressionProvided(content.DialTimeout) {
		d, durDiags := ParseDuration(evalCtx, content.DialTimeout)
		diags = diags.Extend(durDiags)
		cfg.DialTimeout = d
	}

	if cfg.StatusSchedule != "" {
		if _, err := ScheduleParser.Parse(cfg.StatusSchedule); err != nil {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid status_schedule",
				Detail:   fmt.Sprintf("Failed to parse cron spec '%s': %v", cfg.StatusSchedule, err),
			})
		}
	}

	seen := make(map[string]bool)
	for _, block := range content.Projects {
		if block.ID == "" {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid project block",
				Detail:   "Project id must not be empty",
			})
			continue
		}
		if seen[block.ID] {
			diags = diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate project block",
				Detail:   fmt.Sprintf("Project %q is defined more than once", block.ID),
			})
			continue
		}
		seen[block.ID] = true
		cfg.Projects = append(cfg.Projects, ProjectConfig{ID: block.ID, Name: block.Name})
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, nil
}

// IsExpressionProvided reports whether an optional attribute was present.
// gohcl fills absent optional expressions with a zero-length placeholder.
func IsExpressionProvided(expr hcl.Expression) bool {
	return expr != nil && expr.Range().End.Byte > expr.Range().Start.Byte
}
