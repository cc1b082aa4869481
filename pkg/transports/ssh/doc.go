// Package ssh runs provisioning on a remote host. It provides a Client that
// dials with strict host key checking, a Runner implementing
// engine.CommandRunner over SSH sessions, and a FileSystem implementing
// engine.FileSystem over SFTP.
package ssh
