package main

import (
	"bytes"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

/******************************************************************************/
/**************************** Command Abstraction *****************************/
/******************************************************************************/

// command wraps one invocation of an external binary: captured output, exit
// code, crash and interrupt detection from the wait status.
type command struct {
	path string
	args []string
	env  []string

	// After Execute:
	output      []byte
	exitCode    int
	crashed     bool
	interrupted bool
}

func makeCommand(path string, args, env []string) *command {
	return &command{path: path, args: args, env: env}
}

// Execute runs the command to completion, blocking. A target crash is not an
// error: it comes back in the crashed flag. The returned error reports only
// failures to run the binary at all.
func (cmd *command) Execute() error {
	c := exec.Command(cmd.path, cmd.args...)
	if len(cmd.env) > 0 {
		c.Env = cmd.env
	}
	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf

	err := c.Run()
	cmd.output = buf.Bytes()

	if c.ProcessState == nil {
		// The binary never started.
		cmd.exitCode = -1
		return err
	}

	ws, ok := c.ProcessState.Sys().(syscall.WaitStatus)
	if ok {
		status := unix.WaitStatus(ws)
		if status.Signaled() {
			cmd.crashed = true
			sig := status.Signal()
			cmd.interrupted = sig == unix.SIGINT || sig == unix.SIGTERM
			cmd.exitCode = 128 + int(sig)
			return nil
		}
		cmd.exitCode = status.ExitStatus()
	} else {
		cmd.exitCode = c.ProcessState.ExitCode()
	}
	return nil
}

func (cmd *command) Output() []byte { return cmd.output }

// WasInterrupted reports whether the child died from an interrupt signal;
// the engine turns that into an early exit.
func (cmd *command) WasInterrupted() bool { return cmd.interrupted }

// *****************************************************************************
// ****************************** Batch Results ********************************

// ExecutionResult is what the runner reports for one input.
type ExecutionResult struct {
	Features FeatureVec
}

// BatchResult collects the runner's report for one executed batch.
// NumOutputsRead counts the inputs the runner completed before it died: the
// first unreported input is the presumed crasher.
type BatchResult struct {
	Results        []ExecutionResult
	NumOutputsRead int
	ExitCode       int
	Log            string
}

func (br *BatchResult) reset(numInputs int) {
	br.Results = make([]ExecutionResult, numInputs)
	br.NumOutputsRead = 0
	br.ExitCode = 0
	br.Log = ""
}
