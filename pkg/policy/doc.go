// Package policy runs pre-flight checks written in Rego (Open Policy Agent)
// against the provisioning config and the build config before a run starts.
//
// Every policy is a Rego module defining a deny set. Members are either a
// message string or an object:
//
//	deny contains violation if {
//		startswith(input.provision.python.venv_dir, "/")
//		violation := {
//			"message": "virtual environment directory must be relative",
//			"field": "python.venv_dir",
//			"severity": "error",
//		}
//	}
//
// A violation without a severity takes the policy's default. Violations of
// severity error or critical block the run; warning and info are reported.
//
// # Input
//
// Policies see an Input document:
//
//	{
//	  "provision": { ...siteprov.yaml... },
//	  "build": {"port": 5173, "proxy": [{"prefix": "/ask", "target": "http://localhost:5000", "ws": false}]},
//	  "remote": false
//	}
//
// "build" is absent when no build config was loaded.
//
// # Built-in policies
//
//   - venv-path (error): python.venv_dir is relative and stays inside the workdir
//   - secure-downloads (error): pip and nvm bootstrap URLs use https
//   - node-version (error): node.version is a bare major version
//   - loopback-proxy (warning): proxy targets are loopback origins
//   - known-hosts (info): remote runs name their known_hosts file
//
// Additional policies are loaded from a directory of .rego files (the file
// name is the policy name, "# severity: error" sets the default severity) or
// .json policy definitions. Loader.Watch reloads them on change.
package policy
