package main

import (
	"fmt"
	"io"
	"time"

	"github.com/t77yq/multisim/internal/model"
)

const gib = 1 << 30

func printRecord(out io.Writer, rec *model.RunRecord) {
	switch rec.Status {
	case model.RunStatusFailed:
		fmt.Fprintf(out, "%s: failed (%s): %s\n", rec.Label, rec.ErrorClass, rec.Reason)
		return
	case model.RunStatusTimedOut:
		fmt.Fprintf(out, "%s: timed out: %s\n", rec.Label, rec.Reason)
	default:
		fmt.Fprintf(out, "%s: %s with exit code %d in %s\n",
			rec.Label, rec.Status, rec.ExitCode, rec.WallTime.Round(time.Millisecond))
	}

	for _, line := range summaryLines(rec.Stats) {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

// summaryLines reports bandwidth and latency for traffic generators and
// time and instruction count for cores
func summaryLines(stats model.Stats) []string {
	var lines []string

	if _, ok := stats["bytesRead"]; ok {
		if secs := stats["simSeconds"]; secs > 0 {
			bytes := stats["bytesRead"] + stats["bytesWritten"]
			lines = append(lines, fmt.Sprintf("Total bandwidth: %0.2f GiB/s", bytes/secs/gib))
		}
		if reads, freq := stats["totalReads"], stats["simFreq"]; reads > 0 && freq > 0 {
			ns := stats["totalReadLatency"] / reads / freq * 1e9
			lines = append(lines, fmt.Sprintf("Average latency: %0.2f ns", ns))
		}
	}

	if insts, ok := stats["simInsts"]; ok {
		lines = append(lines,
			fmt.Sprintf("Total time: %0.3f ms", stats["simSeconds"]*1e3),
			fmt.Sprintf("Total instructions: %d", uint64(insts)))
	}
	return lines
}
