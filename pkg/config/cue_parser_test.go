package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCUEParser_LoadFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "concrete struct",
			content: `target: dir: "/home/site/wwwroot"`,
		},
		{
			name: "references",
			content: `
_root:   "/srv"
workdir: _root + "/app"
`,
		},
		{
			name:    "syntax error",
			content: `target: {`,
			wantErr: true,
		},
		{
			name:    "incomplete value",
			content: `workdir: string`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "site.cue", tt.content)
			_, err := NewCUEParser().LoadFile(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFile() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCUEParser_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "python.cue", "package site\n\npython: venv_dir: \".venv\"\n")
	writeFile(t, dir, "node.cue", "package site\n\nnode: version: \"18\"\n")

	cp := NewCUEParser()
	val, loaded, err := cp.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("loaded %d files, want 2", len(loaded))
	}

	data, err := cp.ExportJSON(val)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	want := map[string]interface{}{
		"python": map[string]interface{}{"venv_dir": ".venv"},
		"node":   map[string]interface{}{"version": "18"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("package value mismatch (-want +got):\n%s", diff)
	}
}

func TestCUEParser_LoadDirectoryErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.cue", "package site\n\nworkdir: \"/srv\"\n")
	writeFile(t, dir, "b.cue", "package site\n\nworkdir: \"/opt\"\n")

	if _, _, err := NewCUEParser().LoadDirectory(dir); err == nil {
		t.Error("expected conflicting values to fail")
	}
	if _, _, err := NewCUEParser().LoadDirectory(t.TempDir()); err == nil {
		t.Error("expected an empty directory to fail")
	}
}

func TestCUEParser_ExportJSON(t *testing.T) {
	cp := NewCUEParser()
	val, err := cp.LoadFile(writeFile(t, t.TempDir(), "build.cue", `build: {outDir: "../static", sourcemap: true}`))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	data, err := cp.ExportJSON(val)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var got map[string]map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got["build"]["outDir"] != "../static" {
		t.Errorf("build.outDir = %v, want ../static", got["build"]["outDir"])
	}
}

func TestConvertCUEErrors_Positions(t *testing.T) {
	_, err := NewCUEParser().compile("a: 1\na: 2\n", "conflict.cue")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !strings.Contains(err.Error(), "conflict.cue:") {
		t.Errorf("error should carry file position: %v", err)
	}
}
