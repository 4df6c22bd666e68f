// Package backup implements the scheduled, lock-protected incremental backup of one
// server instance.
//
// A run refreshes the "latest" mirror (one checkpoint generation, journals, depots,
// configuration and recent logs), describes it in MANIFEST.yaml, takes a monthly
// snapshot when the month has none yet, enforces snapshot retention and checks the
// integrity of the result. Optionally the selected checkpoint and the manifest are
// copied to offsite storage.
package backup
