package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide datagram/session counter.
var Stats = &stats{}

type stats struct {
	Sessions       atomic.Int64 // sessions opened since process start
	ClosedSessions atomic.Int64 // sessions closed since process start
	BytesSent      atomic.Int64 // cumulative datagram bytes written
	BytesRecv      atomic.Int64 // cumulative datagram bytes read
	Retransmits    atomic.Int64 // reliable chunk resends, one per retransmission
}

func (s *stats) AddSession()    { s.Sessions.Add(1) }
func (s *stats) RemoveSession() { s.ClosedSessions.Add(1) }
func (s *stats) AddSent(n int)  { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int)  { s.BytesRecv.Add(int64(n)) }
func (s *stats) AddRetransmit() { s.Retransmits.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that checks traffic statistics
// every 10 seconds and logs them when either direction averaged more than
// 10 B/s or any chunk was resent. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevRetrans int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				retrans := Stats.Retransmits.Load()
				open := Stats.Sessions.Load() - Stats.ClosedSessions.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				resent := retrans - prevRetrans

				if inS > 10 || outS > 10 || resent > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, open, resent))
				}

				prevSent = sent
				prevRecv = recv
				prevRetrans = retrans

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, open, resent int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Sessions: %2d | Resent: %d",
		formatBytes(inS),
		formatBytes(outS),
		open,
		resent,
	)
}
