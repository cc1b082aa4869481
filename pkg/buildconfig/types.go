package buildconfig

import (
	"encoding/json"
	"fmt"
)

const (
	// DefaultFileName is the build config looked up in the front-end directory.
	DefaultFileName = "buildconfig.yaml"

	// DefaultBackend is the origin of the application backend.
	DefaultBackend = "http://localhost:5000"

	// DefaultDevServerPort is the front-end dev server port.
	DefaultDevServerPort = 5173
)

// Config is the build and dev-server configuration.
type Config struct {
	Plugins []string      `json:"plugins,omitempty" validate:"dive,oneof=react react-swc vue"`
	Build   BuildOptions  `json:"build"`
	Server  ServerOptions `json:"server"`
}

// BuildOptions controls the production build output.
type BuildOptions struct {
	// OutDir receives compiled assets, relative to the front-end directory.
	OutDir string `json:"outDir" validate:"required"`

	// EmptyOutDir clears OutDir before writing.
	EmptyOutDir bool `json:"emptyOutDir"`

	// Sourcemap emits source maps next to the output.
	Sourcemap bool `json:"sourcemap"`

	// ManualChunks forces modules into named bundles.
	ManualChunks map[string][]string `json:"manualChunks,omitempty" validate:"dive,keys,required,endkeys,min=1,dive,required"`
}

// ServerOptions controls the dev server.
type ServerOptions struct {
	Open  bool                 `json:"open"`
	Port  int                  `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	HMR   HMROptions           `json:"hmr"`
	Proxy map[string]ProxyRule `json:"proxy,omitempty" validate:"dive,keys,startswith=/,endkeys"`
}

// HMROptions selects the hot-reload transport.
type HMROptions struct {
	Protocol string `json:"protocol" validate:"oneof=ws wss"`
	Host     string `json:"host" validate:"required"`
}

// ProxyRule forwards requests under a path prefix to Target.
//
// In files a rule is either an origin string or an object with target,
// changeOrigin and ws keys.
type ProxyRule struct {
	Target       string `json:"target" validate:"required,url"`
	ChangeOrigin bool   `json:"changeOrigin,omitempty"`
	WS           bool   `json:"ws,omitempty"`
}

// UnmarshalJSON accepts the string shorthand.
func (r *ProxyRule) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		*r = ProxyRule{Target: target}
		return nil
	}

	type plain ProxyRule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("proxy rule must be an origin string or an object: %w", err)
	}
	*r = ProxyRule(p)
	return nil
}

// MarshalJSON writes the string shorthand when only Target is set.
func (r ProxyRule) MarshalJSON() ([]byte, error) {
	if !r.ChangeOrigin && !r.WS {
		return json.Marshal(r.Target)
	}
	type plain ProxyRule
	return json.Marshal(plain(r))
}

// Rule is a proxy rule paired with its prefix.
type Rule struct {
	Prefix string
	ProxyRule
}

// Shadow reports that Prefix is never reached when By is matched first.
type Shadow struct {
	Prefix string
	By     string
}

func (s Shadow) String() string {
	return fmt.Sprintf("%s is shadowed by %s", s.Prefix, s.By)
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Plugins: []string{"react"},
		Build: BuildOptions{
			OutDir:      "../static",
			EmptyOutDir: true,
			Sourcemap:   true,
			ManualChunks: map[string][]string{
				"vendor": {"react", "react-dom"},
			},
		},
		Server: ServerOptions{
			Open: true,
			Port: DefaultDevServerPort,
			HMR: HMROptions{
				Protocol: "ws",
				Host:     "localhost",
			},
			Proxy: map[string]ProxyRule{
				"/ask":               {Target: DefaultBackend},
				"/chat":              {Target: DefaultBackend},
				"/conversation":      {Target: DefaultBackend},
				"/history":           {Target: DefaultBackend},
				"/frontend_settings": {Target: DefaultBackend},
				"/ws":                {Target: DefaultBackend, WS: true},
			},
		},
	}
}
