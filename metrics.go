package main

import (
	"context"
	"log"
	"time"
)

// RunMetrics logs server stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, s *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytes uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			datagrams, bytes, users, rooms := s.Stats()
			if users > 0 || datagrams > 0 {
				log.Printf("[metrics] users=%d rooms=%d datagrams=%d audio_bytes=%d (%.1f KB/s)",
					users, rooms, datagrams, bytes,
					float64(bytes-lastBytes)/interval.Seconds()/1024)
			}
			lastBytes = bytes
		}
	}
}
