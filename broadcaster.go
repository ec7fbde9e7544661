package main

import "net"

// broadcastEvent allocates the next sequence number, appends the resulting
// packet to the bounded history, and fans it out. builder materializes the
// packet once the sequence number is known; recipients is the fanout target
// snapshot. The event-log lock is held only across the seq-allocate +
// history-append step, and released before any I/O.
func (s *Server) broadcastEvent(builder func(seq uint64) []byte, recipients []net.Addr) {
	if len(recipients) == 0 {
		return
	}

	s.eventLog.mu.Lock()
	seq := s.eventLog.nextSeq
	s.eventLog.nextSeq++
	pkt := builder(seq)

	if len(s.eventLog.history) == maxEventHistory {
		s.eventLog.history = s.eventLog.history[1:]
	}
	s.eventLog.history = append(s.eventLog.history, storedEvent{seq: seq, data: pkt})
	s.eventLog.mu.Unlock()

	s.batchSend(pkt, recipients)
}

// latestSeq returns the sequence number of the most recently broadcast
// event, or 0 if none has been broadcast yet.
func (s *Server) latestSeq() uint64 {
	s.eventLog.mu.Lock()
	defer s.eventLog.mu.Unlock()
	if s.eventLog.nextSeq == 0 {
		return 0
	}
	return s.eventLog.nextSeq - 1
}

// batchSend sends buf to every address in addrs. Per-send failures are
// silently ignored — UDP is lossy by design.
func (s *Server) batchSend(buf []byte, addrs []net.Addr) {
	for _, addr := range addrs {
		_, _ = s.conn.WriteTo(buf, addr)
		s.datagrams.Add(1)
	}
}

// batchSendRoom sends buf to every member of room roomID except the
// optional excluded address. Used by Talk — not sequenced, not stored in
// the event log.
func (s *Server) batchSendRoom(buf []byte, roomID uint16, except net.Addr) {
	room, ok := s.getRoom(roomID)
	if !ok {
		return
	}
	for _, addr := range room.addrs() {
		if except != nil && addr.String() == except.String() {
			continue
		}
		_, _ = s.conn.WriteTo(buf, addr)
	}
}
