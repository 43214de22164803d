package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/sosodev/duration"
	"github.com/zclconf/go-cty/cty"
)

// ParseDuration evaluates expr as a duration. Numbers are seconds; strings
// starting with "P" are ISO 8601 durations; other strings use Go syntax
// ("5s", "1m30s"). Durations must be positive.
func ParseDuration(evalCtx *hcl.EvalContext, expr hcl.Expression) (time.Duration, hcl.Diagnostics) {
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return 0, diags
	}

	var d time.Duration
	switch {
	case val.IsNull():
		return 0, diags
	case val.Type() == cty.Number:
		seconds, _ := val.AsBigFloat().Float64()
		d = time.Duration(seconds * float64(time.Second))
	case val.Type() == cty.String:
		str := strings.TrimSpace(val.AsString())
		var err error
		if strings.HasPrefix(str, "P") {
			var iso *duration.Duration
			iso, err = duration.Parse(str)
			if err == nil {
				d = iso.ToTimeDuration()
			}
		} else {
			d, err = time.ParseDuration(str)
		}
		if err != nil {
			return 0, diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid duration format",
				Detail:   fmt.Sprintf("Failed to parse duration '%s': %v. Expected a number (seconds), ISO 8601 duration (e.g., 'PT5S'), or Go duration (e.g., '5s')", str, err),
				Subject:  expr.Range().Ptr(),
			})
		}
	default:
		return 0, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration type",
			Detail:   fmt.Sprintf("Duration must be a number (seconds) or string, got %s", val.Type().FriendlyName()),
			Subject:  expr.Range().Ptr(),
		})
	}

	if d <= 0 {
		return 0, diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid duration",
			Detail:   "Duration must be positive",
			Subject:  expr.Range().Ptr(),
		})
	}
	return d, diags
}
