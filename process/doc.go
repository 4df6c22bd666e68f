// Package process controls the lifecycle of the server process through the
// SDP control script and escalates to signals when the script cannot stop it.
//
// PIDs are discovered through a chain of resolvers: the server's pid file,
// a command-line pattern matched against /proc, and finally the owner of the
// listening port. The same chain is used for the graceful wait and for the
// SIGKILL escalation, so a server that lost its pid file can still be stopped.
package process
