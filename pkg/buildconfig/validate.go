package buildconfig

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/buildconfig.schema.json
var schemaSource []byte

const schemaURL = "buildconfig.schema.json"

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema *jsonschema.Schema

	validate = validator.New()
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded JSON document against the schema and
// returns one error per violation.
func ValidateDocument(document any) error {
	sch, err := loadSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(document); err != nil {
		var result *multierror.Error
		for _, e := range flattenSchemaError(err) {
			result = multierror.Append(result, e)
		}
		return result.ErrorOrNil()
	}
	return nil
}

// Validate checks c against the schema, its struct tags and the semantic
// rules, reporting every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	document, err := toDocument(c)
	if err != nil {
		return err
	}
	if err := ValidateDocument(document); err != nil {
		result = multierror.Append(result, err)
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				result = multierror.Append(result, fmt.Errorf("%s: failed on '%s' rule", fe.Namespace(), fe.Tag()))
			}
		} else {
			result = multierror.Append(result, err)
		}
	}

	for _, err := range c.semanticErrors() {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (c *Config) semanticErrors() []error {
	var errs []error

	prefixes := make([]string, 0, len(c.Server.Proxy))
	for prefix := range c.Server.Proxy {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	for _, prefix := range prefixes {
		if !strings.HasPrefix(prefix, "/") {
			errs = append(errs, fmt.Errorf("server.proxy[%s]: prefix must start with /", prefix))
		}
		if err := checkOrigin(c.Server.Proxy[prefix].Target); err != nil {
			errs = append(errs, fmt.Errorf("server.proxy[%s]: %w", prefix, err))
		}
	}

	groups := make([]string, 0, len(c.Build.ManualChunks))
	for name := range c.Build.ManualChunks {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	owner := make(map[string]string)
	for _, name := range groups {
		for _, module := range c.Build.ManualChunks[name] {
			if prev, dup := owner[module]; dup {
				errs = append(errs, fmt.Errorf("build.manualChunks: module %s is in both %s and %s", module, prev, name))
				continue
			}
			owner[module] = name
		}
	}

	return errs
}

// checkOrigin accepts scheme://host[:port] with an optional trailing slash.
func checkOrigin(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("origin %q must use http, https, ws or wss", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("origin %q has no host", raw)
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return fmt.Errorf("origin %q must not carry a path, query, fragment or credentials", raw)
	}
	return nil
}

func toDocument(c *Config) (any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode build config: %w", err)
	}
	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("decode build config: %w", err)
	}
	return document, nil
}

func flattenSchemaError(err error) []error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []error{err}
	}

	var out []error
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, fmt.Errorf("%s: %s", instancePath(e.InstanceLocation), e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

// instancePath turns a JSON pointer into a dotted path.
func instancePath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return "(root)"
	}
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
