// Package preflight checks that a worker host can run encodes.
//
// The worker agent runs RunAll once at startup and logs each result; the
// "ffarm worker check" command prints the same results and exits non-zero
// when any check fails. Checks cover the encoder binaries, the scratch
// directory, free space under it, and reachability of the master.
package preflight
