package engine

import (
	"path/filepath"
	"sort"
	"strings"
)

// Env is the explicit environment context threaded through every stage.
// Stages must treat an Env as a value: all mutators return a modified copy.
type Env struct {
	// Path is the executable search path, highest priority first.
	Path []string `json:"path"`

	// Workdir is the directory commands run in and relative paths resolve against.
	Workdir string `json:"workdir"`

	// Vars holds environment variables other than PATH.
	Vars map[string]string `json:"vars"`
}

// NewEnv builds an Env from a working directory and a KEY=VALUE list such as
// os.Environ(). PATH is split into the search path.
func NewEnv(workdir string, environ []string) Env {
	env := Env{
		Workdir: workdir,
		Vars:    make(map[string]string, len(environ)),
	}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		if key == "PATH" {
			env.Path = splitPath(value)
			continue
		}
		env.Vars[key] = value
	}
	return env
}

func splitPath(value string) []string {
	var dirs []string
	for _, dir := range filepath.SplitList(value) {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Clone returns a deep copy.
func (e Env) Clone() Env {
	out := Env{
		Workdir: e.Workdir,
		Path:    append([]string(nil), e.Path...),
		Vars:    make(map[string]string, len(e.Vars)),
	}
	for k, v := range e.Vars {
		out.Vars[k] = v
	}
	return out
}

// Get returns the value of a variable, or "" when unset.
func (e Env) Get(key string) string {
	if key == "PATH" {
		return e.PathString()
	}
	return e.Vars[key]
}

// Lookup returns the value of a variable and whether it is set.
func (e Env) Lookup(key string) (string, bool) {
	if key == "PATH" {
		return e.PathString(), len(e.Path) > 0
	}
	v, ok := e.Vars[key]
	return v, ok
}

// With returns a copy with key set to value.
func (e Env) With(key, value string) Env {
	out := e.Clone()
	if key == "PATH" {
		out.Path = splitPath(value)
		return out
	}
	out.Vars[key] = value
	return out
}

// Without returns a copy with key removed.
func (e Env) Without(key string) Env {
	out := e.Clone()
	if key == "PATH" {
		out.Path = nil
		return out
	}
	delete(out.Vars, key)
	return out
}

// PrependPath returns a copy with dirs placed in front of the search path,
// in the given order.
func (e Env) PrependPath(dirs ...string) Env {
	out := e.Clone()
	out.Path = append(append([]string(nil), dirs...), e.Path...)
	return out
}

// InDir returns a copy whose working directory is dir (resolved against the
// current working directory when relative).
func (e Env) InDir(dir string) Env {
	out := e.Clone()
	out.Workdir = e.Resolve(dir)
	return out
}

// Resolve joins a relative path with the working directory.
func (e Env) Resolve(p string) string {
	if p == "" {
		return e.Workdir
	}
	if filepath.IsAbs(p) || e.Workdir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(e.Workdir, p)
}

// PathString renders the search path in the platform list format.
func (e Env) PathString() string {
	return strings.Join(e.Path, string(filepath.ListSeparator))
}

// Environ renders the Env as a sorted KEY=VALUE list suitable for exec.Cmd.Env.
func (e Env) Environ() []string {
	out := make([]string, 0, len(e.Vars)+1)
	for k, v := range e.Vars {
		out = append(out, k+"="+v)
	}
	if len(e.Path) > 0 {
		out = append(out, "PATH="+e.PathString())
	}
	sort.Strings(out)
	return out
}

// Home returns the HOME variable.
func (e Env) Home() string {
	return e.Vars["HOME"]
}
