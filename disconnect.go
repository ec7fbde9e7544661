package main

import (
	"net"
	"time"
)

// disconnect is the shared disconnect path, used by Leave, the liveness
// sweeper, sync-resend eviction, and join rejection.
func (s *Server) disconnect(addr net.Addr, reason string) {
	if reason != "" {
		pkt := encodeDisconnect(reason)
		done := make(chan struct{})
		go func() {
			_, _ = s.conn.WriteTo(pkt, addr)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(50 * time.Millisecond):
		}
	}

	s.usersMu.Lock()
	user, ok := s.users[addr.String()]
	if !ok {
		s.usersMu.Unlock()
		return
	}
	delete(s.users, addr.String())
	s.usersMu.Unlock()

	roomID := uint16(user.roomID.Load())
	if room, ok := s.getRoom(roomID); ok {
		room.removeMember(addr, user.ID)
	}

	s.connectedMu.Lock()
	for i, a := range s.connected {
		if a.String() == addr.String() {
			last := len(s.connected) - 1
			s.connected[i] = s.connected[last]
			s.connected = s.connected[:last]
			break
		}
	}
	recipients := make([]net.Addr, len(s.connected))
	copy(recipients, s.connected)
	s.connectedMu.Unlock()

	s.broadcastEvent(func(seq uint64) []byte {
		return encodeEvent(seq, false, roomID, user.ID, user.Name)
	}, recipients)

	// Drain reset: a quiescent server restarts sequence numbering and
	// user-id allocation from scratch.
	if s.userCount() == 0 {
		s.eventLog.mu.Lock()
		s.eventLog.nextSeq = 1
		s.eventLog.history = nil
		s.eventLog.mu.Unlock()
		s.nextUserID.Store(0)
	}

	if s.onDisconnect != nil {
		s.onDisconnect.OnDisconnect(user.HWID)
	}
}
