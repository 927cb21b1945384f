// Package hotfolder turns files dropped into a directory into encode jobs.
//
// A file is submitted once its size has stayed the same for the configured
// settle time, so partially copied media is not picked up. Each path is
// submitted at most once per master run, and paths the scheduler already
// knows about are skipped at startup.
package hotfolder
