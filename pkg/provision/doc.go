// Package provision implements the ten-stage environment provisioning run:
// reset the Python virtual environment, bootstrap pip, create and activate
// the venv, install dependencies, ensure Node.js, put the pinned Node.js on
// the search path, restore front-end packages and finish in the deployment
// directory.
//
// Stages never touch process state. Each one receives an engine.Env and
// returns the Env the next stage starts from; every external program runs
// through the engine.CommandRunner and every file access through the
// engine.FileSystem given to New, so a run can target the local machine, a
// remote host over SSH or a test double.
package provision
