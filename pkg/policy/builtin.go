package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		venvPathPolicy(),
		secureDownloadsPolicy(),
		nodeVersionPolicy(),
		loopbackProxyPolicy(),
		knownHostsPolicy(),
	}
}

// venvPathPolicy keeps the reset stage from deleting anything outside the
// application directory.
func venvPathPolicy() Policy {
	return Policy{
		Name:        "venv-path",
		Description: "The virtual environment directory must be a relative path inside the workdir",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package siteprov.policies.venv_path

import rego.v1

venv := input.provision.python.venv_dir

deny contains violation if {
	startswith(venv, "/")
	violation := {
		"message": sprintf("virtual environment directory %q must be relative to the workdir", [venv]),
		"field": "python.venv_dir",
	}
}

deny contains violation if {
	some segment in split(venv, "/")
	segment == ".."
	violation := {
		"message": sprintf("virtual environment directory %q must not leave the workdir", [venv]),
		"field": "python.venv_dir",
	}
}

deny contains violation if {
	trim_right(venv, "/") in {"", "."}
	violation := {
		"message": "virtual environment directory must not be the workdir itself",
		"field": "python.venv_dir",
	}
}
`,
	}
}

// secureDownloadsPolicy requires bootstrap installers to be fetched over TLS.
func secureDownloadsPolicy() Policy {
	return Policy{
		Name:        "secure-downloads",
		Description: "Bootstrap installers piped into an interpreter must be downloaded over https",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package siteprov.policies.secure_downloads

import rego.v1

urls := {
	"python.get_pip_url": input.provision.python.get_pip_url,
	"node.nvm_install_url": input.provision.node.nvm_install_url,
}

deny contains violation if {
	some field, url in urls
	not startswith(lower(url), "https://")
	violation := {
		"message": sprintf("%s must use https", [url]),
		"field": field,
	}
}
`,
	}
}

// nodeVersionPolicy requires the runtime pin to be a bare major version.
func nodeVersionPolicy() Policy {
	return Policy{
		Name:        "node-version",
		Description: "The Node.js pin must be a numeric major version",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Rego: `package siteprov.policies.node_version

import rego.v1

deny contains violation if {
	version := input.provision.node.version
	not regex.match("^[0-9]+$", version)
	violation := {
		"message": sprintf("node version %q must be a major version such as \"18\"", [version]),
		"field": "node.version",
	}
}
`,
	}
}

// loopbackProxyPolicy flags dev-server proxy rules that leave the machine.
func loopbackProxyPolicy() Policy {
	return Policy{
		Name:        "loopback-proxy",
		Description: "Dev-server proxy targets should be loopback origins",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Rego: `package siteprov.policies.loopback_proxy

import rego.v1

loopback := "^(https?|wss?)://(localhost|127\\.0\\.0\\.1|\\[::1\\])(:[0-9]+)?/?$"

deny contains violation if {
	some rule in input.build.proxy
	not regex.match(loopback, rule.target)
	violation := {
		"message": sprintf("%s is forwarded to non-loopback origin %s", [rule.prefix, rule.target]),
		"field": sprintf("server.proxy[%q]", [rule.prefix]),
	}
}
`,
	}
}

// knownHostsPolicy notes remote runs that rely on the default known_hosts file.
func knownHostsPolicy() Policy {
	return Policy{
		Name:        "known-hosts",
		Description: "Remote runs should name the known_hosts file used to verify the host key",
		Severity:    SeverityInfo,
		Enabled:     true,
		Builtin:     true,
		Rego: `package siteprov.policies.known_hosts

import rego.v1

deny contains violation if {
	input.remote
	not input.provision.remote.known_hosts_file
	violation := {
		"message": sprintf("host key of %s is verified against ~/.ssh/known_hosts", [input.provision.remote.host]),
		"field": "remote.known_hosts_file",
	}
}
`,
	}
}
