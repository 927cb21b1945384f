// Package notifications publishes farm events to ntfy.
//
// The master publishes job outcomes and lost workers through the Service
// interface. When no topic is configured NewService returns a no-op, so
// callers never check whether alerts are enabled.
package notifications
