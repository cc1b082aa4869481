package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a run.
	SeverityError Severity = "error"

	// SeverityCritical blocks a run.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether violations of this severity stop a run.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy is a named Rego module. The module must define a deny set whose
// members are strings or objects with message, severity and field keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies compiled into the binary.
	Builtin bool `json:"builtin"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Field is the config field at fault, e.g. "python.venv_dir".
	Field string `json:"field,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// String formats the violation as a single report line.
func (v Violation) String() string {
	if v.Field != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", v.Severity, v.Policy, v.Field, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation blocks the run.
	Allowed bool `json:"allowed"`

	// Violations lists every violation in policy order.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that stop a run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocks() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns the blocking violations as one error, or nil when the run is
// allowed.
func (r *Result) Err() error {
	var result *multierror.Error
	for _, v := range r.Blocking() {
		result = multierror.Append(result, fmt.Errorf("%s", v))
	}
	if result != nil {
		result.ErrorFormat = func(errs []error) string {
			lines := make([]string, len(errs))
			for i, err := range errs {
				lines[i] = err.Error()
			}
			return fmt.Sprintf("pre-flight policy check failed:\n  %s", strings.Join(lines, "\n  "))
		}
	}
	return result.ErrorOrNil()
}

// Input is the document policies see as input.
type Input struct {
	// Provision is the provisioning config.
	Provision *config.ProvisionConfig `json:"provision"`

	// Build is the build config, when one was loaded.
	Build *BuildInput `json:"build,omitempty"`

	// Remote is true when the run targets a remote host.
	Remote bool `json:"remote"`
}

// BuildInput is the part of the build config policies inspect.
type BuildInput struct {
	Port  int          `json:"port"`
	Proxy []ProxyInput `json:"proxy"`
}

// ProxyInput is one proxy rule.
type ProxyInput struct {
	Prefix string `json:"prefix"`
	Target string `json:"target"`
	WS     bool   `json:"ws"`
}

// NewInput builds the policy input. bc may be nil.
func NewInput(cfg *config.ProvisionConfig, bc *buildconfig.Config) *Input {
	in := &Input{
		Provision: cfg,
		Remote:    cfg.Remote.Host != "",
	}
	if bc != nil {
		build := &BuildInput{Port: bc.Server.Port, Proxy: []ProxyInput{}}
		for _, rule := range bc.Rules() {
			build.Proxy = append(build.Proxy, ProxyInput{
				Prefix: rule.Prefix,
				Target: rule.Target,
				WS:     rule.WS,
			})
		}
		in.Build = build
	}
	return in
}
