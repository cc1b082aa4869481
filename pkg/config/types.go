package config

import (
	"time"

	"github.com/siteprov/siteprov/pkg/telemetry"
)

// ProvisionConfig is the decoded form of siteprov.yaml.
type ProvisionConfig struct {
	// Workdir is the application root the run starts in. Relative paths in
	// the rest of the config resolve against it.
	Workdir string `yaml:"workdir" json:"workdir" validate:"required"`

	// Python configures the isolated Python environment.
	Python PythonConfig `yaml:"python" json:"python"`

	// Node configures the Node.js runtime.
	Node NodeConfig `yaml:"node" json:"node"`

	// Frontend configures the front-end sub-project restore.
	Frontend FrontendConfig `yaml:"frontend" json:"frontend"`

	// Target is the deployment directory the run finishes in.
	Target TargetConfig `yaml:"target" json:"target"`

	// BuildConfig is the path of the build/dev-server config file.
	BuildConfig string `yaml:"build_config" json:"build_config,omitempty"`

	// History configures the run history database.
	History HistoryConfig `yaml:"history" json:"history"`

	// Policy configures pre-flight policy checks.
	Policy PolicyConfig `yaml:"policy" json:"policy"`

	// Remote, when Host is set, provisions a remote machine over SSH.
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry" json:"-"`
}

// PythonConfig configures the Python stages.
type PythonConfig struct {
	// Interpreter is the Python program used to bootstrap pip and create the venv.
	Interpreter string `yaml:"interpreter" json:"interpreter" validate:"required"`

	// VenvDir is the virtual environment directory, relative to Workdir.
	VenvDir string `yaml:"venv_dir" json:"venv_dir" validate:"required"`

	// MinVersion is the minimum accepted interpreter version (e.g. "3.8").
	MinVersion string `yaml:"min_version" json:"min_version,omitempty"`

	// Requirements is the dependency manifest, relative to Workdir.
	Requirements string `yaml:"requirements" json:"requirements" validate:"required"`

	// UpgradePip upgrades pip inside the venv before installing dependencies.
	UpgradePip bool `yaml:"upgrade_pip" json:"upgrade_pip"`

	// GetPipURL is the pip bootstrap installer location.
	GetPipURL string `yaml:"get_pip_url" json:"get_pip_url" validate:"required,url"`

	// LenientDependencies turns a dependency installation failure into a
	// logged, non-fatal failure.
	LenientDependencies bool `yaml:"lenient_dependencies" json:"lenient_dependencies"`
}

// NodeConfig configures the Node.js stages.
type NodeConfig struct {
	// Version is the pinned major version, e.g. "18".
	Version string `yaml:"version" json:"version" validate:"required,numeric"`

	// Binary is the program name looked up on the search path.
	Binary string `yaml:"binary" json:"binary" validate:"required"`

	// NvmInstallURL is the nvm bootstrap script location.
	NvmInstallURL string `yaml:"nvm_install_url" json:"nvm_install_url" validate:"required,url"`

	// NvmDir overrides $NVM_DIR. Empty means $HOME/.nvm.
	NvmDir string `yaml:"nvm_dir" json:"nvm_dir,omitempty"`
}

// FrontendConfig configures the front-end package restore.
type FrontendConfig struct {
	// Dir is the sub-project directory, relative to Workdir.
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// PackageManager is the restore program.
	PackageManager string `yaml:"package_manager" json:"package_manager" validate:"required,oneof=npm pnpm yarn"`

	// Args are the restore arguments.
	Args []string `yaml:"args" json:"args,omitempty"`
}

// TargetConfig configures the final deployment directory.
type TargetConfig struct {
	Dir string `yaml:"dir" json:"dir" validate:"required"`
}

// HistoryConfig configures run history persistence.
type HistoryConfig struct {
	// Path is the SQLite database path. Empty disables history.
	Path string `yaml:"path" json:"path,omitempty"`
}

// PolicyConfig configures pre-flight policies.
type PolicyConfig struct {
	// Dir holds additional .rego files loaded next to the built-in policies.
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// Skip disables pre-flight policy evaluation.
	Skip bool `yaml:"skip" json:"skip"`
}

// RemoteConfig configures remote provisioning over SSH.
type RemoteConfig struct {
	Host           string        `yaml:"host" json:"host,omitempty" validate:"omitempty,hostname|ip"`
	Port           int           `yaml:"port" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User           string        `yaml:"user" json:"user,omitempty" validate:"required_with=Host"`
	KeyFile        string        `yaml:"key_file" json:"key_file,omitempty"`
	KnownHostsFile string        `yaml:"known_hosts_file" json:"known_hosts_file,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g. "python.venv_dir").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmtLocation(e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return loc + ": " + e.Path + ": " + e.Message
	case loc != "":
		return loc + ": " + e.Message
	case e.Path != "":
		return e.Path + ": " + e.Message
	default:
		return e.Message
	}
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`
}
