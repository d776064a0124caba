package service

// Package service implements the supervision of a single server process.
//
// Overview
// The Supervisor starts one external program per gekko invocation (php -S,
// php-cgi, nginx or a project command) and drives its Process through a small
// state machine:
//
//	Pending -> Running -> Stopping -> Exited
//	                   |           \-> Failed   (killed after grace period)
//	                   |-> Exited               (exit code 0)
//	                   \-> Failed               (crash, non zero exit code)
//
// Exited and Failed are terminal. Only the Supervisor and the Process wait
// goroutine change the state; both do it under the Process mutex.
//
// Process is a thin, opinionated wrapper around os/exec:
//   - starts the program in its own process group (unix)
//   - forwards stdout and stderr line by line to a LineFunc
//   - reaps the child in a goroutine and closes Done() afterwards
//   - exposes a Result snapshot of the last known state
//
// Data flow:
//
//	server command          Supervisor                 Process{cmd}
//	     |                      |                          |
//	     | Start() ------------>| exec.Cmd.Start --------->| wait() goroutine
//	     | WaitForReady() ----->| netscan.WaitListening    |
//	     | Wait() / signal      |                          |
//	     | Stop(grace) -------->| stop signal to group --->|
//	     |                      | SIGKILL after grace ---->|
//	     |<------ exit code ----|<------- Done() ----------|
//
// Invariants:
//   - Exactly one Process per Start call, never restarted.
//   - Stop never blocks longer than the grace period plus the time needed to
//     reap a killed child.
//   - A forced kill is reported as model.ForcedTerminationWarning, never as a
//     failure of the command.
