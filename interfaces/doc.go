// Package interfaces holds the types shared by every orchestrator package:
// the Instance description and its SDP path layout, the Report used to carry
// recoverable errors up to the caller, the Runner abstraction over external
// commands, and the storage contracts used for offsite backups and secrets.
package interfaces
