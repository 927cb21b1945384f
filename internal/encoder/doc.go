// Package encoder runs a single encode for the worker agent.
//
// Two backends implement Encoder: FFmpeg shells out to the ffmpeg binary and
// derives progress from its time= status lines against an ffprobe duration;
// Drapto drives the Drapto library in-process and forwards its reporter
// events. Both append encoder output to the task's LogTail so the agent can
// attach it to the completion report.
package encoder
