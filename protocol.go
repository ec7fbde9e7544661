package main

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

// Magic prefixes every datagram of this protocol.
var magic = [4]byte{0xde, 0xad, 0xc0, 0xde}

// Opcodes, client→server and server→client.
const (
	opPing       uint32 = 1
	opPong       uint32 = 2
	opJoin       uint32 = 3
	opJoined     uint32 = 4
	opTalk       uint32 = 5
	opTalked     uint32 = 6
	opAlive      uint32 = 7
	opAlived     uint32 = 8
	opRooms      uint32 = 9
	opRoomsList  uint32 = 10
	opEvent      uint32 = 11
	opSwitch     uint32 = 12
	opLeave      uint32 = 13
	opDisconnect uint32 = 14
	opAccepted   uint32 = 15
)

// ErrMalformed is returned by Decode for any datagram that does not conform
// to the wire format: short buffer, bad magic, unknown opcode in the
// requested direction, wrong fixed-length payload, missing NUL terminator,
// or invalid UTF-8.
var ErrMalformed = errors.New("pigeonvc: malformed packet")

// RoomSummary is one (id, name) pair as carried in a RoomsList reply.
type RoomSummary struct {
	ID   uint16
	Name string
}

// JoinedUser is one (id, name) pair as carried in a Joined snapshot.
type JoinedUser struct {
	ID   uint64
	Name string
}

// Packet is the tagged union of every decodable frame. Only the field(s)
// relevant to Op are populated; the rest are zero.
type Packet struct {
	Op uint32

	// Join
	Name   string
	HWID   string
	RoomID uint16

	// Talk / Talked
	Audio      []byte
	TalkerID   uint64
	TalkFlags  byte // reserved, always 0 on the wire

	// Alive
	ClientSeq uint64

	// Rooms
	Offset uint16

	// RoomsList
	Remaining bool
	Rooms     []RoomSummary

	// Joined
	Users []JoinedUser

	// Event
	Seq    uint64
	UserID uint64
	Joined bool

	// Disconnect
	Reason string

	// Accepted
	LatestSeq uint64
}

// appendCString appends s followed by a NUL terminator.
func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// takeCString reads a NUL-terminated, valid UTF-8 string from the front of
// buf and returns it along with the remainder of buf after the terminator.
func takeCString(buf []byte) (string, []byte, error) {
	i := 0
	for i < len(buf) && buf[i] != 0 {
		i++
	}
	if i == len(buf) {
		return "", nil, ErrMalformed
	}
	if !utf8.Valid(buf[:i]) {
		return "", nil, ErrMalformed
	}
	return string(buf[:i]), buf[i+1:], nil
}

func header(op uint32) []byte {
	buf := make([]byte, 0, 8)
	buf = append(buf, magic[:]...)
	var opBytes [4]byte
	binary.BigEndian.PutUint32(opBytes[:], op)
	return append(buf, opBytes[:]...)
}

// --- client → server encoders (used by tests and the synthetic test bot) ---

func encodePing() []byte { return header(opPing) }

func encodeJoin(name, hwid string, roomID uint16) []byte {
	buf := header(opJoin)
	buf = appendCString(buf, name)
	buf = appendCString(buf, hwid)
	var roomBytes [2]byte
	binary.BigEndian.PutUint16(roomBytes[:], roomID)
	return append(buf, roomBytes[:]...)
}

func encodeTalk(audio []byte) []byte {
	buf := header(opTalk)
	return append(buf, audio...)
}

func encodeAlive(clientSeq uint64) []byte {
	buf := header(opAlive)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], clientSeq)
	return append(buf, seqBytes[:]...)
}

func encodeRooms(offset uint16) []byte {
	buf := header(opRooms)
	var off [2]byte
	binary.BigEndian.PutUint16(off[:], offset)
	return append(buf, off[:]...)
}

func encodeSwitch(roomID uint16) []byte {
	buf := header(opSwitch)
	var rid [2]byte
	binary.BigEndian.PutUint16(rid[:], roomID)
	return append(buf, rid[:]...)
}

func encodeLeave() []byte { return header(opLeave) }

// --- server → client encoders ---

func encodePong() []byte { return header(opPong) }

func encodeJoined(roomID uint16, users []JoinedUser) []byte {
	buf := header(opJoined)
	var rid [2]byte
	binary.BigEndian.PutUint16(rid[:], roomID)
	buf = append(buf, rid[:]...)
	for _, u := range users {
		var idBytes [8]byte
		binary.BigEndian.PutUint64(idBytes[:], u.ID)
		buf = append(buf, idBytes[:]...)
		buf = appendCString(buf, u.Name)
	}
	return buf
}

func encodeTalked(talkerID uint64, audio []byte) []byte {
	buf := header(opTalked)
	buf = append(buf, 0) // reserved flag byte
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], talkerID)
	buf = append(buf, idBytes[:]...)
	return append(buf, audio...)
}

func encodeAlived() []byte { return header(opAlived) }

func encodeRoomsList(remaining bool, rooms []RoomSummary) []byte {
	buf := header(opRoomsList)
	if remaining {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	for _, r := range rooms {
		var idBytes [2]byte
		binary.BigEndian.PutUint16(idBytes[:], r.ID)
		buf = append(buf, idBytes[:]...)
		buf = appendCString(buf, r.Name)
	}
	return buf
}

func encodeEvent(seq uint64, joined bool, roomID uint16, userID uint64, name string) []byte {
	buf := header(opEvent)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	buf = append(buf, seqBytes[:]...)
	var rid [2]byte
	binary.BigEndian.PutUint16(rid[:], roomID)
	buf = append(buf, rid[:]...)
	var idBytes [8]byte
	binary.BigEndian.PutUint64(idBytes[:], userID)
	buf = append(buf, idBytes[:]...)
	buf = appendCString(buf, name)
	if joined {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func encodeDisconnect(reason string) []byte {
	buf := header(opDisconnect)
	return appendCString(buf, reason)
}

func encodeAccepted(latestSeq, userID uint64) []byte {
	buf := header(opAccepted)
	var seqBytes, idBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], latestSeq)
	binary.BigEndian.PutUint64(idBytes[:], userID)
	buf = append(buf, seqBytes[:]...)
	return append(buf, idBytes[:]...)
}

// decodeHeader validates the common MAGIC+opcode prefix and returns the
// opcode plus the remaining payload bytes.
func decodeHeader(buf []byte) (uint32, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrMalformed
	}
	if [4]byte(buf[:4]) != magic {
		return 0, nil, ErrMalformed
	}
	op := binary.BigEndian.Uint32(buf[4:8])
	return op, buf[8:], nil
}

// DecodeClient decodes a datagram using the client→server opcode set. This
// is the only decoder the dispatcher uses.
func DecodeClient(buf []byte) (Packet, error) {
	op, rest, err := decodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}

	switch op {
	case opPing:
		if len(rest) != 0 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op}, nil

	case opJoin:
		name, rest, err := takeCString(rest)
		if err != nil {
			return Packet{}, err
		}
		hwid, rest, err := takeCString(rest)
		if err != nil {
			return Packet{}, err
		}
		if len(rest) != 2 {
			return Packet{}, ErrMalformed
		}
		roomID := binary.BigEndian.Uint16(rest)
		return Packet{Op: op, Name: name, HWID: hwid, RoomID: roomID}, nil

	case opTalk:
		audio := append([]byte(nil), rest...)
		return Packet{Op: op, Audio: audio}, nil

	case opRooms:
		if len(rest) != 2 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op, Offset: binary.BigEndian.Uint16(rest)}, nil

	case opSwitch:
		if len(rest) != 2 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op, RoomID: binary.BigEndian.Uint16(rest)}, nil

	case opAlive:
		if len(rest) != 8 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op, ClientSeq: binary.BigEndian.Uint64(rest)}, nil

	case opLeave:
		if len(rest) != 0 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op}, nil

	default:
		return Packet{}, ErrMalformed
	}
}

// DecodeServer decodes a datagram using the server→client opcode set. Not
// used by the dispatcher; exposed for protocol tests and potential client
// reuse.
func DecodeServer(buf []byte) (Packet, error) {
	op, rest, err := decodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}

	switch op {
	case opPong:
		if len(rest) != 0 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op}, nil

	case opJoined:
		if len(rest) < 2 {
			return Packet{}, ErrMalformed
		}
		roomID := binary.BigEndian.Uint16(rest)
		rest = rest[2:]
		var users []JoinedUser
		for len(rest) > 0 {
			if len(rest) < 8 {
				return Packet{}, ErrMalformed
			}
			id := binary.BigEndian.Uint64(rest)
			rest = rest[8:]
			name, r2, err := takeCString(rest)
			if err != nil {
				return Packet{}, err
			}
			rest = r2
			users = append(users, JoinedUser{ID: id, Name: name})
		}
		return Packet{Op: op, RoomID: roomID, Users: users}, nil

	case opTalked:
		if len(rest) < 9 {
			return Packet{}, ErrMalformed
		}
		flags := rest[0]
		talkerID := binary.BigEndian.Uint64(rest[1:9])
		audio := append([]byte(nil), rest[9:]...)
		return Packet{Op: op, TalkFlags: flags, TalkerID: talkerID, Audio: audio}, nil

	case opAlived:
		if len(rest) != 0 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op}, nil

	case opRoomsList:
		if len(rest) < 1 {
			return Packet{}, ErrMalformed
		}
		remaining := rest[0] != 0
		rest = rest[1:]
		var rooms []RoomSummary
		for len(rest) > 0 {
			if len(rest) < 2 {
				return Packet{}, ErrMalformed
			}
			id := binary.BigEndian.Uint16(rest)
			rest = rest[2:]
			name, r2, err := takeCString(rest)
			if err != nil {
				return Packet{}, err
			}
			rest = r2
			rooms = append(rooms, RoomSummary{ID: id, Name: name})
		}
		return Packet{Op: op, Remaining: remaining, Rooms: rooms}, nil

	case opEvent:
		if len(rest) < 18 {
			return Packet{}, ErrMalformed
		}
		seq := binary.BigEndian.Uint64(rest[0:8])
		roomID := binary.BigEndian.Uint16(rest[8:10])
		userID := binary.BigEndian.Uint64(rest[10:18])
		name, rest, err := takeCString(rest[18:])
		if err != nil {
			return Packet{}, err
		}
		if len(rest) != 1 {
			return Packet{}, ErrMalformed
		}
		joined := rest[0] != 0
		return Packet{Op: op, Seq: seq, RoomID: roomID, UserID: userID, Name: name, Joined: joined}, nil

	case opDisconnect:
		reason, rest, err := takeCString(rest)
		if err != nil {
			return Packet{}, err
		}
		if len(rest) != 0 {
			return Packet{}, ErrMalformed
		}
		return Packet{Op: op, Reason: reason}, nil

	case opAccepted:
		if len(rest) != 16 {
			return Packet{}, ErrMalformed
		}
		latestSeq := binary.BigEndian.Uint64(rest[0:8])
		userID := binary.BigEndian.Uint64(rest[8:16])
		return Packet{Op: op, LatestSeq: latestSeq, UserID: userID}, nil

	default:
		return Packet{}, ErrMalformed
	}
}
