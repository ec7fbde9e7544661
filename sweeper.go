package main

import (
	"context"
	"net"
	"time"
)

// RunSweeper is the liveness sweeper: every routineSleepMS it scans for
// users whose deadline has passed and disconnects them with reason
// "Inactivity timeout", using the same path as voluntary leaves.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(routineSleepMS * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now().Unix()
		var expired []net.Addr

		s.usersMu.RLock()
		for _, u := range s.users {
			if u.lastSeen.Load() <= now {
				expired = append(expired, u.Addr)
			}
		}
		s.usersMu.RUnlock()

		for _, addr := range expired {
			s.disconnect(addr, "Inactivity timeout")
		}
	}
}

// keepalive refreshes last_seen for the user at addr and returns it, or nil
// if addr has no registered user.
func (s *Server) keepalive(addr net.Addr) *User {
	u, ok := s.getUser(addr)
	if !ok {
		return nil
	}
	u.lastSeen.Store(time.Now().Unix() + userTimeoutSecs)
	return u
}
