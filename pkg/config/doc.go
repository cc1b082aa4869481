// Package config loads and validates the siteprov provisioning configuration.
//
// A configuration file (siteprov.yaml or siteprov.cue) is decoded on top of
// Default, so every field it leaves out keeps its default value. The result is
// checked three ways and every problem is reported at once:
//
//   - struct tags, through go-playground/validator
//   - the built-in "provision" CUE schema held by a SchemaRegistry
//   - semantic checks such as python.min_version being a version
//
// # Components
//
// Loader: reads YAML or CUE files and runs validation.
//
// CUEParser: compiles CUE files, directories and inline sources. Errors are
// converted to ValidationError values carrying file positions.
//
// SchemaRegistry: holds named CUE schemas. Each schema declares a #Schema
// definition that data is unified with.
//
// StarlarkEvaluator: runs programmable config scripts with a timeout. Scripts
// read variables through getenv() and export their public globals.
//
// # Usage Example
//
//	loader := config.NewLoader()
//	cfg, found, err := loader.LoadOrDefault(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !found {
//	    log.Print("no siteprov.yaml, using defaults")
//	}
package config
