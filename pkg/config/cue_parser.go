package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/hashicorp/go-multierror"
)

// CUEParser loads CUE configuration files.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// LoadFile compiles a single CUE file. Errors carry file positions.
func (cp *CUEParser) LoadFile(path string) (cue.Value, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read file: %w", err)
	}
	return cp.compile(string(content), path)
}

func (cp *CUEParser) compile(src, filename string) (cue.Value, error) {
	val := cp.ctx.CompileString(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, joinValidationErrors(convertCUEErrors(err))
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, joinValidationErrors(convertCUEErrors(err))
	}
	return val, nil
}

// LoadDirectory loads every .cue file in dir as one CUE package and returns
// the files it read.
func (cp *CUEParser) LoadDirectory(dir string) (cue.Value, []string, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, joinValidationErrors(convertCUEErrors(inst.Err))
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, joinValidationErrors(convertCUEErrors(err))
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, nil, joinValidationErrors(convertCUEErrors(err))
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}
	return val, files, nil
}

// ExportJSON exports a CUE value to JSON.
func (cp *CUEParser) ExportJSON(val cue.Value) ([]byte, error) {
	var data interface{}
	if err := val.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return json.MarshalIndent(data, "", "  ")
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = filepath.Base(pos[0].Filename())
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		ve.Message = strings.TrimSpace(ve.Message)
		out = append(out, ve)
	}
	if len(out) == 0 && err != nil {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func joinValidationErrors(errs []ValidationError) error {
	var result *multierror.Error
	for _, e := range errs {
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}
