package main

import (
	"fmt"
	"net"
)

// handleAliveSync is the sync-resend engine, invoked from the Alive handler
// when the client reports a non-zero client_seq.
func (s *Server) handleAliveSync(addr net.Addr, user *User, clientSeq uint64) {
	serverLastSeq := s.latestSeq()

	if clientSeq >= serverLastSeq {
		user.consecutiveBehind.Store(0)
		return
	}

	behindBy := serverLastSeq - clientSeq

	if behindBy > maxEventHistory {
		s.disconnect(addr, fmt.Sprintf("Sync failure: Too far behind (%d events)", behindBy))
		return
	}

	failures := user.consecutiveBehind.Add(1)
	if failures >= maxConsecutiveBehind {
		s.disconnect(addr, fmt.Sprintf("Sync failure: Behind %d consecutive times", failures))
		return
	}

	s.eventLog.mu.Lock()
	var toResend [][]byte
	for _, ev := range s.eventLog.history {
		if ev.seq > clientSeq {
			toResend = append(toResend, ev.data)
		}
	}
	s.eventLog.mu.Unlock()

	if uint64(len(toResend)) != behindBy {
		s.disconnect(addr, "Internal server error: Event history inconsistency")
		return
	}

	for _, pkt := range toResend {
		_, _ = s.conn.WriteTo(pkt, addr)
	}
}
