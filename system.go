package main

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// *****************************************************************************
// ****************************** Early Exit ***********************************

// The engine runs single-threaded; blocking points (target execution, shard
// loading) are long. Instead of cancellation tokens, a process-wide
// cooperative flag is polled at batch boundaries. Signal handlers and the
// crash path both set it.

type earlyExitState struct {
	mtx       sync.Mutex
	requested bool
	exitCode  int
}

var earlyExit earlyExitState

// RequestEarlyExit asks the fuzzing loop to stop at the next batch boundary.
// The first request wins the exit code.
func RequestEarlyExit(exitCode int) {
	earlyExit.mtx.Lock()
	if !earlyExit.requested {
		earlyExit.requested = true
		earlyExit.exitCode = exitCode
	}
	earlyExit.mtx.Unlock()
}

// EarlyExitRequested is polled by the loop between batches.
func EarlyExitRequested() bool {
	earlyExit.mtx.Lock()
	defer earlyExit.mtx.Unlock()
	return earlyExit.requested
}

// ExitCode returns 0 during a normal run, or the code of the first early
// exit request.
func ExitCode() int {
	earlyExit.mtx.Lock()
	defer earlyExit.mtx.Unlock()
	return earlyExit.exitCode
}

// resetEarlyExit exists for tests; production processes exit instead.
func resetEarlyExit() {
	earlyExit.mtx.Lock()
	earlyExit.requested = false
	earlyExit.exitCode = 0
	earlyExit.mtx.Unlock()
}

// *****************************************************************************
// ****************************** Signal Handler *******************************

type signalHandler struct {
	signalChan chan os.Signal
	started    bool
}

var sHand signalHandler

// installSignalHandler routes SIGINT/SIGTERM to the early-exit flag so the
// loop finishes its current batch, flushes, and logs end-fuzz.
func installSignalHandler() {
	if sHand.started {
		return
	}
	sHand.started = true
	sHand.signalChan = make(chan os.Signal, 1)
	signal.Notify(sHand.signalChan, os.Interrupt, unix.SIGTERM)

	go func() {
		for range sHand.signalChan {
			RequestEarlyExit(1)
		}
	}()
}

func removeSignalHandler() {
	if !sHand.started {
		return
	}
	signal.Stop(sHand.signalChan)
	sHand.started = false
}
