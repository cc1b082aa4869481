// Package buildconfig models the front-end build and dev-server
// configuration: output directory, source maps, manual chunk groups, dev
// server settings and the path-prefix proxy rules that forward API calls to
// the backend during development.
//
// A Config is loaded from YAML, JSON, CUE or Starlark, validated against an
// embedded JSON Schema plus semantic checks, and rendered to vite.config.js
// for the external bundler. Route answers where the dev server forwards a
// request path.
package buildconfig
