package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaDefinition is the definition every registered schema must declare.
const schemaDefinition = "#Schema"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema("provision", builtinProvisionSchema); err != nil {
		panic(err)
	}
	return sr
}

// RegisterSchema registers a CUE schema with the given name. The source must
// declare a #Schema definition; data is validated against that definition.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(schemaDefinition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, schemaDefinition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinProvisionSchema = `
// Provisioning configuration (siteprov.yaml)
#Schema: {
	workdir: string & !=""

	python: {
		interpreter:          string & !=""
		venv_dir:             string & !="" & !~"^/"
		min_version?:         string & =~"^[0-9]+(\\.[0-9]+){0,2}$"
		requirements:         string & !=""
		upgrade_pip:          bool
		get_pip_url:          string & =~"^https?://"
		lenient_dependencies: bool
	}

	node: {
		version:         string & =~"^[0-9]+$"
		binary:          string & !=""
		nvm_install_url: string & =~"^https?://"
		nvm_dir?:        string
	}

	frontend: {
		dir:             string & !=""
		package_manager: "npm" | "pnpm" | "yarn"
		args?:           [...string]
	}

	target: dir: string & !=""

	build_config?: string

	history: path?: string

	policy: {
		dir?: string
		skip: bool
	}

	remote: {
		host?:             string
		port?:             int & >=1 & <=65535
		user?:             string
		key_file?:         string
		known_hosts_file?: string
		timeout?:          int & >=0
	}
}
`
