package main

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/buger/goterm"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// *****************************************************************************
// ******************************** Reporter ***********************************
// Structured event lines, the live status screen and the end-of-run report.
// The event lines are a contract: external tooling greps for them, and
// end-fuzz in particular marks completion.

type reporterT struct {
	env    *Environment
	startT time.Time

	// Per-batch execution speeds, for the end report aggregates.
	execSpeeds []float64
}

func makeReporter(env *Environment) *reporterT {
	return &reporterT{env: env, startT: time.Now()}
}

func (rep *reporterT) resetTimer() {
	rep.startT = time.Now()
	rep.execSpeeds = rep.execSpeeds[:0]
}

func (rep *reporterT) noteBatch(batchSize int, dur time.Duration) {
	if dur <= 0 {
		return
	}
	rep.execSpeeds = append(rep.execSpeeds, float64(batchSize)/dur.Seconds())
}

// Log emits one structured event line carrying the run counters. Events
// above the configured log level are suppressed.
func (e *Engine) Log(event string, minLogLevel int) {
	if e.env.LogLevel < minLogLevel {
		return
	}
	elapsed := time.Since(e.rep.startT).Seconds()
	var execSpeed float64
	if elapsed > 0 {
		execSpeed = float64(e.numRuns) / elapsed
	}
	max, avg := e.corpus.MaxAndAvgSize()
	log.Printf("[%d] %s: ft: %d cov: %d cnt: %d df: %d cmp: %d path: %d"+
		" corp: %d/%d max/avg %d %d exec/s: %.1f\n",
		e.numRuns, event,
		e.fs.Size(), len(e.fs.ToCoveragePCs()),
		e.fs.CountFeatures(counters8Domain),
		e.fs.CountFeatures(dataFlowDomain),
		e.fs.CountFeatures(cmpDomain),
		e.fs.CountFeatures(boundedPathDomain),
		e.corpus.NumActive(), e.corpus.NumTotal(),
		max, avg, execSpeed)
}

// *****************************************************************************
// ******************************* Status Screen *******************************

// printStatus redraws the live display. Only used with -v on a terminal; the
// event lines above stay the canonical output.
func (e *Engine) printStatus(batchIndex int) {
	if !e.env.Verbose {
		return
	}
	goterm.Clear()
	goterm.MoveCursor(1, 1)

	gtPrintf("Target: %s\n", e.env.Binary)
	gtPrintf("shard: %d/%d - batch: %d\n",
		e.env.MyShardIndex, e.env.TotalShards, batchIndex)
	gtPrintf("runs: %d/%d\n", e.numRuns, e.env.NumRuns)
	gtPrintf("features: %d - coverage: %d PCs\n",
		e.fs.Size(), len(e.fs.ToCoveragePCs()))
	gtPrintf("corpus: %d/%d\n", e.corpus.NumActive(), e.corpus.NumTotal())
	gtPrintf("crash reports: %d\n", e.numCrashReports)

	goterm.Flush()
}

func gtPrintf(format string, a ...interface{}) {
	_, err := goterm.Printf(format, a...)
	if err != nil {
		log.Printf("Error while using goterm: %v.\n", err)
	}
}

// *****************************************************************************
// ***************************** Coverage Report *******************************

// coverageReportBytes renders the per-domain summary plus the covered pc
// indexes as a human-readable report.
func (e *Engine) coverageReportBytes() []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Coverage report for %s, shard %d/%d\n\n",
		e.env.binaryIdentity, e.env.MyShardIndex, e.env.TotalShards)

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"domain", "features"})
	for _, d := range allDomains {
		table.Append([]string{d.name, fmt.Sprintf("%d", e.fs.CountFeatures(d))})
	}
	table.Append([]string{"total", fmt.Sprintf("%d", e.fs.Size())})
	table.Render()

	pcs := e.fs.ToCoveragePCs()
	fmt.Fprintf(&buf, "\ncovered pc indexes (%d):\n", len(pcs))
	for _, pc := range pcs {
		fmt.Fprintf(&buf, "%d\n", pc)
	}
	return buf.Bytes()
}

// *****************************************************************************
// ****************************** End fuzz report ******************************

// EndReport summarizes the session for the caller of the engine.
type EndReport struct {
	TotalRuns    int
	NumFeatures  int
	CoveredPCs   int
	CorpusActive int
	CorpusTotal  int
	CrashReports int
	Stopped      bool // interrupted before the run budget was spent

	ExecSpeedMean float64
	ExecSpeedStd  float64
}

func (e *Engine) endReport() (endRep EndReport) {
	endRep.TotalRuns = e.numRuns
	endRep.NumFeatures = e.fs.Size()
	endRep.CoveredPCs = len(e.fs.ToCoveragePCs())
	endRep.CorpusActive = e.corpus.NumActive()
	endRep.CorpusTotal = e.corpus.NumTotal()
	endRep.CrashReports = e.numCrashReports
	endRep.Stopped = EarlyExitRequested()

	if len(e.rep.execSpeeds) > 0 {
		endRep.ExecSpeedMean = stat.Mean(e.rep.execSpeeds, nil)
		endRep.ExecSpeedStd = stat.StdDev(e.rep.execSpeeds, nil)
	}
	return endRep
}

func (endRep EndReport) String() string {
	return fmt.Sprintf(
		"runs: %d - ft: %d - cov: %d - corp: %d/%d - crashes: %d"+
			" - exec/s: %.1f (std=%.1f)",
		endRep.TotalRuns, endRep.NumFeatures, endRep.CoveredPCs,
		endRep.CorpusActive, endRep.CorpusTotal, endRep.CrashReports,
		endRep.ExecSpeedMean, endRep.ExecSpeedStd)
}
