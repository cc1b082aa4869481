package provision

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing/fstest"

	"github.com/siteprov/siteprov/pkg/engine"
	"github.com/siteprov/siteprov/pkg/runner"
)

// journal records runner and filesystem operations in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) index(prefix string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// memFS is an engine.FileSystem over fstest.MapFS using absolute paths.
type memFS struct {
	files   fstest.MapFS
	journal *journal
}

func newMemFS(j *journal, paths ...string) *memFS {
	m := &memFS{files: fstest.MapFS{}, journal: j}
	for _, p := range paths {
		m.addFile(p, "")
	}
	return m
}

func (m *memFS) addFile(path, content string) {
	m.files[strings.TrimPrefix(path, "/")] = &fstest.MapFile{Data: []byte(content), Mode: 0o644}
}

func (m *memFS) addDir(path string) {
	m.files[strings.TrimPrefix(path, "/")] = &fstest.MapFile{Mode: fs.ModeDir | 0o755}
}

func (m *memFS) RemoveAll(path string) error {
	m.journal.add("rm %s", path)
	key := strings.TrimPrefix(path, "/")
	for name := range m.files {
		if name == key || strings.HasPrefix(name, key+"/") {
			delete(m.files, name)
		}
	}
	return nil
}

func (m *memFS) Stat(path string) (fs.FileInfo, error) {
	return fs.Stat(m.files, strings.TrimPrefix(path, "/"))
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	return fs.ReadFile(m.files, strings.TrimPrefix(path, "/"))
}

func (m *memFS) ReadDir(path string) ([]fs.DirEntry, error) {
	return fs.ReadDir(m.files, strings.TrimPrefix(path, "/"))
}

// response is a scripted command result.
type response struct {
	match  string
	result engine.CommandResult
	err    error
	effect func(cmd engine.Command)
}

// fakeRunner returns scripted results. Commands are matched by prefix of their
// formatted command line, latest registration first; unmatched commands
// succeed with empty output.
type fakeRunner struct {
	mu        sync.Mutex
	responses []response
	calls     []engine.Command
	journal   *journal
}

func newFakeRunner(j *journal) *fakeRunner {
	return &fakeRunner{journal: j}
}

func (r *fakeRunner) on(match string, exitCode int, stdout string) *fakeRunner {
	r.responses = append(r.responses, response{match: match, result: engine.CommandResult{ExitCode: exitCode, Stdout: stdout}})
	return r
}

func (r *fakeRunner) onError(match string, err error) *fakeRunner {
	r.responses = append(r.responses, response{match: match, err: err})
	return r
}

func (r *fakeRunner) onEffect(match string, effect func(cmd engine.Command)) *fakeRunner {
	r.responses = append(r.responses, response{match: match, effect: effect})
	return r
}

func (r *fakeRunner) Run(ctx context.Context, cmd engine.Command) (*engine.CommandResult, error) {
	line := runner.FormatCommand(cmd)

	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()
	r.journal.add("exec %s", line)

	for i := len(r.responses) - 1; i >= 0; i-- {
		resp := r.responses[i]
		if strings.HasPrefix(line, resp.match) {
			if resp.effect != nil {
				resp.effect(cmd)
			}
			if resp.err != nil {
				return nil, resp.err
			}
			res := resp.result
			return &res, nil
		}
	}
	return &engine.CommandResult{}, nil
}

func (r *fakeRunner) find(prefix string) (engine.Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if strings.HasPrefix(runner.FormatCommand(c), prefix) {
			return c, true
		}
	}
	return engine.Command{}, false
}

func (r *fakeRunner) ran(prefix string) bool {
	_, ok := r.find(prefix)
	return ok
}
