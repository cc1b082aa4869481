package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/siteprov/siteprov/pkg/buildconfig"
	"github.com/siteprov/siteprov/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine_LoadsBuiltins(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		if !p.Builtin {
			t.Errorf("policy %s should be built in", p.Name)
		}
		names = append(names, p.Name)
	}
	want := []string{"known-hosts", "loopback-proxy", "node-version", "secure-downloads", "venv-path"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("built-in policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_DefaultsAllowed(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), NewInput(config.Default(), buildconfig.Default()))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed {
		t.Errorf("defaults should be allowed, violations: %v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("unexpected violations: %v", result.Violations)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected evaluation warnings: %v", result.Warnings)
	}
	if len(result.EvaluatedPolicies) != 5 {
		t.Errorf("evaluated %v", result.EvaluatedPolicies)
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v, want nil", result.Err())
	}
}

func TestEvaluate_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(cfg *config.ProvisionConfig, bc *buildconfig.Config)
		wantAllowed bool
		want        []Violation
	}{
		{
			name:        "absolute venv",
			mutate:      func(cfg *config.ProvisionConfig, _ *buildconfig.Config) { cfg.Python.VenvDir = "/opt/venv" },
			wantAllowed: false,
			want: []Violation{{
				Policy: "venv-path", Field: "python.venv_dir", Severity: SeverityError,
				Message: `virtual environment directory "/opt/venv" must be relative to the workdir`,
			}},
		},
		{
			name:        "venv escapes workdir",
			mutate:      func(cfg *config.ProvisionConfig, _ *buildconfig.Config) { cfg.Python.VenvDir = "envs/../../venv" },
			wantAllowed: false,
			want: []Violation{{
				Policy: "venv-path", Field: "python.venv_dir", Severity: SeverityError,
				Message: `virtual environment directory "envs/../../venv" must not leave the workdir`,
			}},
		},
		{
			name:        "venv is workdir",
			mutate:      func(cfg *config.ProvisionConfig, _ *buildconfig.Config) { cfg.Python.VenvDir = "./" },
			wantAllowed: false,
			want: []Violation{{
				Policy: "venv-path", Field: "python.venv_dir", Severity: SeverityError,
				Message: "virtual environment directory must not be the workdir itself",
			}},
		},
		{
			name: "plain http downloads",
			mutate: func(cfg *config.ProvisionConfig, _ *buildconfig.Config) {
				cfg.Python.GetPipURL = "http://bootstrap.pypa.io/get-pip.py"
				cfg.Node.NvmInstallURL = "http://example.com/install.sh"
			},
			wantAllowed: false,
			want: []Violation{
				{Policy: "secure-downloads", Field: "node.nvm_install_url", Severity: SeverityError, Message: "http://example.com/install.sh must use https"},
				{Policy: "secure-downloads", Field: "python.get_pip_url", Severity: SeverityError, Message: "http://bootstrap.pypa.io/get-pip.py must use https"},
			},
		},
		{
			name:        "node minor pin",
			mutate:      func(cfg *config.ProvisionConfig, _ *buildconfig.Config) { cfg.Node.Version = "18.2" },
			wantAllowed: false,
			want: []Violation{{
				Policy: "node-version", Field: "node.version", Severity: SeverityError,
				Message: `node version "18.2" must be a major version such as "18"`,
			}},
		},
		{
			name: "remote proxy target is only a warning",
			mutate: func(_ *config.ProvisionConfig, bc *buildconfig.Config) {
				bc.Server.Proxy["/history"] = buildconfig.ProxyRule{Target: "https://api.example.com"}
			},
			wantAllowed: true,
			want: []Violation{{
				Policy: "loopback-proxy", Field: `server.proxy["/history"]`, Severity: SeverityWarning,
				Message: "/history is forwarded to non-loopback origin https://api.example.com",
			}},
		},
		{
			name: "remote run without known_hosts",
			mutate: func(cfg *config.ProvisionConfig, _ *buildconfig.Config) {
				cfg.Remote.Host = "web-1"
				cfg.Remote.User = "deploy"
			},
			wantAllowed: true,
			want: []Violation{{
				Policy: "known-hosts", Field: "remote.known_hosts_file", Severity: SeverityInfo,
				Message: "host key of web-1 is verified against ~/.ssh/known_hosts",
			}},
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			bc := buildconfig.Default()
			tt.mutate(cfg, bc)

			result, err := eng.Evaluate(context.Background(), NewInput(cfg, bc))
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.wantAllowed)
			}
			if diff := cmp.Diff(tt.want, result.Violations); diff != "" {
				t.Errorf("violations mismatch (-want +got):\n%s", diff)
			}
			if (result.Err() == nil) != tt.wantAllowed {
				t.Errorf("Err() = %v with Allowed %v", result.Err(), result.Allowed)
			}
		})
	}
}

func TestEvaluate_WithoutBuildConfig(t *testing.T) {
	eng := newTestEngine(t)
	result, err := eng.Evaluate(context.Background(), NewInput(config.Default(), nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed || len(result.Violations) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestEvaluate_RequiresProvisionConfig(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Evaluate(context.Background(), &Input{}); err == nil {
		t.Error("expected error for missing provisioning config")
	}
}

const denyFrontendDir = `package site.frontend

import rego.v1

deny contains "frontend dir must be named frontend" if {
	input.provision.frontend.dir != "frontend"
}

deny contains {"message": "yarn is not allowed", "severity": "critical", "field": "frontend.package_manager"} if {
	input.provision.frontend.package_manager == "yarn"
}
`

func TestLoad_CustomPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.Load(ctx, []Policy{{Name: "frontend", Rego: denyFrontendDir, Severity: SeverityWarning, Enabled: true}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg := config.Default()
	cfg.Frontend.Dir = "web"
	cfg.Frontend.PackageManager = "yarn"

	result, err := eng.Evaluate(ctx, NewInput(cfg, nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := []Violation{
		{Policy: "frontend", Severity: SeverityWarning, Message: "frontend dir must be named frontend"},
		{Policy: "frontend", Field: "frontend.package_manager", Severity: SeverityCritical, Message: "yarn is not allowed"},
	}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
	if result.Allowed {
		t.Error("critical violation should block")
	}
	if err := result.Err(); err == nil || !strings.Contains(err.Error(), "[critical] frontend: frontend.package_manager: yarn is not allowed") {
		t.Errorf("Err() = %v", err)
	}

	if err := eng.DisablePolicy("frontend"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	result, err = eng.Evaluate(ctx, NewInput(cfg, nil))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still evaluated: %v", result.Violations)
	}
}

func TestLoad_Errors(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		policy Policy
	}{
		{"syntax error", Policy{Name: "broken", Rego: "package x\n\ndeny contains if {", Enabled: true}},
		{"replaces builtin", Policy{Name: "venv-path", Rego: "package x\n", Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.Load(ctx, []Policy{tt.policy}); err == nil {
				t.Error("expected error")
			}
		})
	}

	p, err := eng.GetPolicy("venv-path")
	if err != nil || !p.Builtin {
		t.Errorf("built-in policy changed: %+v, %v", p, err)
	}
}

func TestReplace_KeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.Load(ctx, []Policy{{Name: "old", Rego: "package old\n", Enabled: true}}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := eng.Replace(ctx, []Policy{{Name: "new", Rego: "package new\n", Enabled: true}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := eng.GetPolicy("old"); err == nil {
		t.Error("old policy should be gone")
	}
	if _, err := eng.GetPolicy("new"); err != nil {
		t.Errorf("new policy missing: %v", err)
	}
	if len(eng.ListPolicies()) != 6 {
		t.Errorf("policies = %d, want 6", len(eng.ListPolicies()))
	}
}

func TestEnableDisable_Unknown(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.EnablePolicy("nope"); err == nil {
		t.Error("expected error")
	}
	if err := eng.DisablePolicy("nope"); err == nil {
		t.Error("expected error")
	}
}

func defaultInput() *Input {
	return NewInput(config.Default(), buildconfig.Default())
}

func defaultInputFor(cfg *config.ProvisionConfig) *Input {
	return NewInput(cfg, buildconfig.Default())
}
