/*
main.go - libraryctl, the operator's command line

PURPOSE:
  Runs the library's maintenance operations directly against the
  database, without the HTTP server: integrity scans, orphan cleanup,
  counter reconciliation, demo reseeding, health reports and staff
  account creation.

COMMANDS:
  scan                          Report orphaned and dangling references
  cleanup [--execute] [--yes]   Delete deletable orphans, then reconcile
  reconcile [--dry-run]         Recount book counters from loans and holds
  reseed --dry-run|--commit     Replace all data with a generated set
  validate-integrity            Scan plus per-record consistency checks
  audit-consistency             Per-record consistency checks only
  health-report                 Scored data-quality summary
  full-check                    Everything read-only, one exit code
  user add                      Create a staff account

GLOBAL FLAGS:
  --driver   sqlite | postgres | memory (default: DB_DRIVER)
  --dsn      Data source name (default: DATABASE_URL)
  --json     Machine-readable output

EXIT CODES:
  0  clean / success
  1  problems found
  2  the command itself failed

SEE ALSO:
  - root.go: Wiring and output helpers
  - commands.go: Command implementations
  - config/config.go: Environment defaults
*/
package main

import "os"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
