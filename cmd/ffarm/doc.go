// Command ffarm runs the encode farm master and workers and talks to a
// running master from the shell.
//
//	ffarm master                 start the coordinator
//	ffarm worker                 start an encode agent
//	ffarm worker check           run worker preflight checks
//	ffarm jobs submit|list|show|retry
//	ffarm workers list|drain|undrain
//	ffarm queue pause|resume|status
//	ffarm config init|show
//
// Client commands reach the master at worker.master_url, overridable with
// --master. Pass --json for machine-readable output.
package main
