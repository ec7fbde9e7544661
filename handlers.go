package main

import (
	"context"
	"net"
	"time"
)

// handle dispatches one decoded client packet to its handler. Errors are
// recoverable: the dispatcher neither disconnects the peer nor propagates
// the error beyond logging it.
func (s *Server) handle(ctx context.Context, addr net.Addr, pkt Packet) error {
	switch pkt.Op {
	case opPing:
		return s.handlePing(addr)
	case opRooms:
		return s.handleRooms(addr, pkt.Offset)
	case opJoin:
		return s.handleJoin(ctx, addr, pkt.Name, pkt.HWID, pkt.RoomID)
	case opSwitch:
		return s.handleSwitch(addr, pkt.RoomID)
	case opTalk:
		return s.handleTalk(addr, pkt.Audio)
	case opAlive:
		return s.handleAlive(addr, pkt.ClientSeq)
	case opLeave:
		return s.handleLeave(addr)
	default:
		return nil // unknown-but-well-formed: silently dropped
	}
}

func (s *Server) handlePing(addr net.Addr) error {
	_, err := s.conn.WriteTo(encodePong(), addr)
	return err
}

// handleRooms implements the paginated room listing.
func (s *Server) handleRooms(addr net.Addr, offset uint16) error {
	if offset == 0 {
		offset = 1
	}

	var list []RoomSummary
	for i := offset; i < offset+10; i++ {
		room, ok := s.getRoom(i)
		if !ok {
			break // keys are dense in the canonical deployment; stop at first gap
		}
		list = append(list, RoomSummary{ID: room.ID, Name: room.Name})
	}

	remaining := uint16(s.roomCount()) >= offset+10

	_, err := s.conn.WriteTo(encodeRoomsList(remaining, list), addr)
	return err
}

// handleJoin implements Join, including the external authorization call
// and the join-success fanout sequence.
func (s *Server) handleJoin(ctx context.Context, addr net.Addr, name, hwid string, roomID uint16) error {
	if _, exists := s.getUser(addr); exists {
		return nil // silently reject a duplicate join from the same endpoint
	}

	if s.tryJoin != nil {
		if err := s.tryJoin.TryJoin(ctx, hwid); err != nil {
			s.disconnect(addr, err.Error())
			return err
		}
	}

	now := time.Now().Unix()
	id := s.nextUserID.Add(1) - 1
	user := newUser(id, name, hwid, addr, roomID, now)

	s.usersMu.Lock()
	s.users[addr.String()] = user
	s.usersMu.Unlock()

	s.connectedMu.Lock()
	s.connected = append(s.connected, addr)
	recipients := make([]net.Addr, len(s.connected))
	copy(recipients, s.connected)
	s.connectedMu.Unlock()

	if room, ok := s.getRoom(roomID); ok {
		room.addMember(addr, user)
	}
	// If roomID does not exist, the user is still tracked globally but
	// belongs to no room; a later Switch may repair this.

	for _, rid := range s.allRoomIDs() {
		room, ok := s.getRoom(rid)
		if !ok {
			continue
		}
		pkt := encodeJoined(rid, room.snapshot())
		if _, err := s.conn.WriteTo(pkt, addr); err != nil {
			return err
		}
	}

	s.broadcastEvent(func(seq uint64) []byte {
		return encodeEvent(seq, true, roomID, user.ID, name)
	}, recipients)

	_, err := s.conn.WriteTo(encodeAccepted(s.latestSeq(), user.ID), addr)
	return err
}

// handleSwitch implements Switch: move a user from its current room to a
// new one, sending it a fresh Joined view and broadcasting a leave-then-join
// event pair to every connected peer.
func (s *Server) handleSwitch(addr net.Addr, newRoomID uint16) error {
	user := s.keepalive(addr)
	if user == nil {
		return nil
	}

	oldRoomID := uint16(user.roomID.Load())
	if oldRoomID == newRoomID {
		return nil
	}

	newRoom, ok := s.getRoom(newRoomID)
	if !ok {
		return nil
	}

	user.roomID.Store(uint32(newRoomID))

	if oldRoom, ok := s.getRoom(oldRoomID); ok {
		oldRoom.removeMember(addr, user.ID)
	}
	newRoom.addMember(addr, user)

	if _, err := s.conn.WriteTo(encodeJoined(newRoomID, newRoom.snapshot()), addr); err != nil {
		return err
	}

	recipients := s.connectedAddrs()
	s.broadcastEvent(func(seq uint64) []byte {
		return encodeEvent(seq, false, oldRoomID, user.ID, user.Name)
	}, recipients)
	s.broadcastEvent(func(seq uint64) []byte {
		return encodeEvent(seq, true, newRoomID, user.ID, user.Name)
	}, recipients)

	return nil
}

// handleTalk implements Talk: keepalive the sender and fan its audio out to
// the rest of its room, unsequenced and not persisted.
func (s *Server) handleTalk(addr net.Addr, audio []byte) error {
	user := s.keepalive(addr)
	if user == nil {
		return nil
	}
	roomID := uint16(user.roomID.Load())
	pkt := encodeTalked(user.ID, audio)
	s.batchSendRoom(pkt, roomID, addr)
	s.audioBytes.Add(uint64(len(audio)))

	if rec, ok := s.recorders.Load(roomID); ok {
		rec.(*RoomRecorder).feed(audio)
	}
	return nil
}

// handleAlive implements Alive: refresh the deadline and, if the client
// reports a sync position, run the sync-resend engine.
func (s *Server) handleAlive(addr net.Addr, clientSeq uint64) error {
	user := s.keepalive(addr)
	if user == nil {
		return nil
	}
	if _, err := s.conn.WriteTo(encodeAlived(), addr); err != nil {
		return err
	}
	if clientSeq > 0 {
		s.handleAliveSync(addr, user, clientSeq)
	}
	return nil
}

// handleLeave implements Leave: a voluntary disconnect with no reason sent.
func (s *Server) handleLeave(addr net.Addr) error {
	s.disconnect(addr, "")
	return nil
}
