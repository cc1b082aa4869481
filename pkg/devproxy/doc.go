// Package devproxy runs a development reverse proxy in front of the front-end
// dev server and the application backend.
//
// A request whose path begins with a proxy prefix from the build config is
// forwarded to that rule's target; WebSocket upgrades are forwarded only for
// rules with ws enabled. Every other request goes to the dev server on
// localhost at server.port. Matching uses Config.Match from pkg/buildconfig,
// so the proxy routes exactly as `siteprov route` reports.
//
// The build config file is watched and re-read on change; a config that fails
// to load or validate is logged and the previous rule table stays in effect.
// Prometheus metrics are served on /metrics and a liveness probe on /healthz.
package devproxy
