package main

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"sync/atomic"
)

// Tunables governing liveness, history retention, and sync-resend behavior.
const (
	userTimeoutSecs      = 5
	routineSleepMS       = 500
	maxEventHistory      = 100
	maxConsecutiveBehind = 3
)

// JoinAuthorizer is the external authorization collaborator, called
// synchronously before a user is registered. An error's message is sent
// back to the client verbatim as the Disconnect reason.
type JoinAuthorizer interface {
	TryJoin(ctx context.Context, hwid string) error
}

// DisconnectNotifier is the external on_disconnect(hwid) collaborator,
// invoked after a user has been fully removed regardless of cause.
type DisconnectNotifier interface {
	OnDisconnect(hwid string)
}

// User is an active participant. Fields mutated outside the owning
// goroutine (last seen, room id, consecutive-behind count) are atomics:
// advisory, not invariant-guarding.
type User struct {
	ID   uint64
	Name string
	HWID string
	Addr net.Addr

	lastSeen          atomic.Int64  // unix seconds, refreshed by keepalive
	roomID            atomic.Uint32 // current room id; 0 is itself a valid room id
	consecutiveBehind atomic.Uint32
}

func newUser(id uint64, name, hwid string, addr net.Addr, roomID uint16, now int64) *User {
	u := &User{ID: id, Name: name, HWID: hwid, Addr: addr}
	u.lastSeen.Store(now + userTimeoutSecs)
	u.roomID.Store(uint32(roomID))
	return u
}

// Room is a named channel with a membership. joinedSnapshot and addrList
// are guarded by mu and kept in lockstep with members on every mutation.
type Room struct {
	ID   uint16
	Name string

	mu             sync.RWMutex
	members        map[string]*User // addr.String() -> user
	joinedSnapshot []JoinedUser     // kept consistent with members
	addrList       []net.Addr       // kept consistent with members
}

func newRoom(id uint16, name string) *Room {
	return &Room{ID: id, Name: name, members: make(map[string]*User)}
}

// addMember inserts addr/user into the room's three collections together,
// keeping them consistent with each other.
func (r *Room) addMember(addr net.Addr, u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[addr.String()] = u
	r.joinedSnapshot = append(r.joinedSnapshot, JoinedUser{ID: u.ID, Name: u.Name})
	r.addrList = append(r.addrList, addr)
}

// removeMember removes addr/user (by user id and addr) from the room's
// three collections with swap-remove; order within joinedSnapshot/addrList
// is not preserved.
func (r *Room) removeMember(addr net.Addr, userID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, addr.String())

	for i, ju := range r.joinedSnapshot {
		if ju.ID == userID {
			last := len(r.joinedSnapshot) - 1
			r.joinedSnapshot[i] = r.joinedSnapshot[last]
			r.joinedSnapshot = r.joinedSnapshot[:last]
			break
		}
	}
	for i, a := range r.addrList {
		if a.String() == addr.String() {
			last := len(r.addrList) - 1
			r.addrList[i] = r.addrList[last]
			r.addrList = r.addrList[:last]
			break
		}
	}
}

func (r *Room) snapshot() []JoinedUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JoinedUser, len(r.joinedSnapshot))
	copy(out, r.joinedSnapshot)
	return out
}

func (r *Room) addrs() []net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]net.Addr, len(r.addrList))
	copy(out, r.addrList)
	return out
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// storedEvent is one entry in the event log's ring buffer.
type storedEvent struct {
	seq  uint64
	data []byte
}

// EventLog is the bounded, totally ordered event stream. nextSeq and
// history must evolve atomically, hence the single exclusive lock covering
// both.
type EventLog struct {
	mu      sync.Mutex
	nextSeq uint64
	history []storedEvent // ring buffer, oldest first, len <= maxEventHistory
}

func newEventLog() *EventLog {
	return &EventLog{nextSeq: 1}
}

// Server holds every server-wide index plus the wiring needed to actually
// run (socket, collaborators, store-backed room catalog).
type Server struct {
	conn *net.UDPConn

	usersMu sync.RWMutex
	users   map[string]*User // addr.String() -> user (primary connection table)

	roomsMu sync.RWMutex
	rooms   map[uint16]*Room

	connectedMu sync.RWMutex
	connected   []net.Addr // global fanout target for presence events

	nextUserID atomic.Uint64
	eventLog   *EventLog

	tryJoin      JoinAuthorizer
	onDisconnect DisconnectNotifier

	recorders  sync.Map // room id -> *RoomRecorder
	dataDir    string
	datagrams  atomic.Uint64
	audioBytes atomic.Uint64
}

// SetDataDir sets the base directory recordings are written under.
func (s *Server) SetDataDir(dir string) { s.dataDir = dir }

// StartRoomRecording begins recording roomID's Talk audio, returning an
// error if a recording for that room is already active.
func (s *Server) StartRoomRecording(roomID uint16) error {
	if _, exists := s.recorders.Load(roomID); exists {
		return fmt.Errorf("room %d is already recording", roomID)
	}
	rec, err := StartRecording(roomID, s.dataDir)
	if err != nil {
		return err
	}
	s.recorders.Store(roomID, rec)
	return nil
}

// StopRoomRecording stops an active recording for roomID, if any.
func (s *Server) StopRoomRecording(roomID uint16) error {
	v, ok := s.recorders.LoadAndDelete(roomID)
	if !ok {
		return fmt.Errorf("room %d is not recording", roomID)
	}
	v.(*RoomRecorder).Stop()
	return nil
}

// Stats returns a snapshot of server-wide counters for the admin API and
// periodic metrics logging.
func (s *Server) Stats() (datagrams, audioBytes uint64, users, rooms int) {
	return s.datagrams.Load(), s.audioBytes.Load(), s.userCount(), s.roomCount()
}

// NewServer constructs a Server bound to listenAddr. It does not start the
// receive loop or sweeper; call Listen and RunSweeper for that.
func NewServer(listenAddr string, authorizer JoinAuthorizer, notifier DisconnectNotifier) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conn:         conn,
		users:        make(map[string]*User),
		rooms:        make(map[uint16]*Room),
		eventLog:     newEventLog(),
		tryJoin:      authorizer,
		onDisconnect: notifier,
	}
	// The very first user ever allocated gets id 1, not 0; a post-drain
	// reset brings this back down to 0 instead (see disconnect.go).
	s.nextUserID.Store(1)
	return s, nil
}

// AddRoomWithID registers a room at boot from the static catalog. Rooms are
// never destroyed at runtime.
func (s *Server) AddRoomWithID(id uint16, name string) {
	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()
	s.rooms[id] = newRoom(id, name)
}

func (s *Server) getRoom(id uint16) (*Room, bool) {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Server) roomCount() int {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	return len(s.rooms)
}

// allRoomIDs returns every registered room id in ascending order, used by
// Join to send the joiner one Joined frame per room.
func (s *Server) allRoomIDs() []uint16 {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()
	ids := make([]uint16, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) getUser(addr net.Addr) (*User, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	u, ok := s.users[addr.String()]
	return u, ok
}

func (s *Server) userCount() int {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return len(s.users)
}

func (s *Server) connectedAddrs() []net.Addr {
	s.connectedMu.RLock()
	defer s.connectedMu.RUnlock()
	out := make([]net.Addr, len(s.connected))
	copy(out, s.connected)
	return out
}
