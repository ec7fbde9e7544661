package main

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRecordingDuration is the maximum wall-clock duration for a single
// server-side voice recording before it is automatically stopped.
const maxRecordingDuration = 2 * time.Hour

// RecordingInfo holds metadata about a completed or in-progress recording.
type RecordingInfo struct {
	ID        string `json:"id"`
	RoomID    uint16 `json:"room_id"`
	FileName  string `json:"file_name"`
	StartedAt int64  `json:"started_at"`
	StoppedAt int64  `json:"stopped_at"`
	Packets   uint64 `json:"packets"`
}

// RoomRecorder captures the raw audio bytes carried by Talk frames for one
// room and writes them to an OGG/Opus file. The Talk handler calls feed
// with exactly the payload bytes it fanned out; the Talk payload carries no
// sender/sequence header to strip.
type RoomRecorder struct {
	mu       sync.Mutex
	id       string
	roomID   uint16
	file     *os.File
	ogg      *oggWriter
	stopped  bool
	maxTimer *time.Timer
	started  time.Time
	packets  uint64
}

// StartRecording begins recording roomID's Talk audio to dataDir/recordings.
func StartRecording(roomID uint16, dataDir string) (*RoomRecorder, error) {
	dir := filepath.Join(dataDir, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	now := time.Now()
	filename := fmt.Sprintf("room%d_%s.ogg", roomID, now.Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	ogg := newOGGWriter(f)
	if err := ogg.writeHeaders(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write OGG headers: %w", err)
	}

	rr := &RoomRecorder{id: uuid.NewString(), roomID: roomID, file: f, ogg: ogg, started: now}
	rr.maxTimer = time.AfterFunc(maxRecordingDuration, func() {
		log.Printf("[recording] room %d: max duration reached, auto-stopping", roomID)
		rr.Stop()
	})

	log.Printf("[recording] room %d: started, file=%s", roomID, filename)
	return rr, nil
}

// feed writes one Talk frame's audio bytes as an Opus packet.
func (rr *RoomRecorder) feed(audio []byte) {
	if len(audio) == 0 {
		return
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.stopped {
		return
	}
	rr.packets++
	if err := rr.ogg.writeOpusPacket(audio, rr.packets); err != nil {
		log.Printf("[recording] room %d: write error: %v", rr.roomID, err)
	}
}

// Stop ends the recording and closes the file. Safe to call multiple times.
func (rr *RoomRecorder) Stop() {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if rr.stopped {
		return
	}
	rr.stopped = true
	rr.maxTimer.Stop()
	rr.ogg.close()
	rr.file.Close()
	log.Printf("[recording] room %d: stopped, %d packets recorded", rr.roomID, rr.packets)
}

// Info returns metadata about this recording.
func (rr *RoomRecorder) Info() RecordingInfo {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return RecordingInfo{
		ID:        rr.id,
		RoomID:    rr.roomID,
		FileName:  filepath.Base(rr.file.Name()),
		StartedAt: rr.started.UnixMilli(),
		Packets:   rr.packets,
	}
}

// ---------------------------------------------------------------------------
// OGG/Opus writer — minimal implementation for writing Opus packets into an
// OGG container. Reference: RFC 7845 (Ogg Encapsulation for Opus).
// ---------------------------------------------------------------------------

type oggWriter struct {
	w         *os.File
	serial    uint32
	pageSeqNo uint32
}

func newOGGWriter(f *os.File) *oggWriter {
	return &oggWriter{w: f, serial: 0x50474243} // "PGBC"
}

// writeHeaders writes the mandatory OpusHead and OpusTags pages.
func (o *oggWriter) writeHeaders() error {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = 1 // channel count (mono mix from server perspective)
	binary.LittleEndian.PutUint16(head[10:12], 0)     // pre-skip
	binary.LittleEndian.PutUint32(head[12:16], 48000) // sample rate
	binary.LittleEndian.PutUint16(head[16:18], 0)     // output gain
	head[18] = 0                                      // channel mapping family

	if err := o.writePage(head, 0, 2); err != nil { // flag 2 = beginning of stream
		return err
	}

	vendor := "pigeonvc"
	tags := make([]byte, 8+4+len(vendor)+4)
	copy(tags[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	copy(tags[12:12+len(vendor)], vendor)
	binary.LittleEndian.PutUint32(tags[12+len(vendor):], 0) // no user comments

	return o.writePage(tags, 0, 0)
}

// writeOpusPacket writes a single Opus packet as an OGG page. packetNum is
// 1-based; granule advances by 960 per packet (20 ms at 48 kHz).
func (o *oggWriter) writeOpusPacket(opus []byte, packetNum uint64) error {
	granule := packetNum * 960
	return o.writePage(opus, granule, 0)
}

// close writes the final empty page with the EOS flag.
func (o *oggWriter) close() {
	_ = o.writePage(nil, 0, 4)
}

// writePage writes a single OGG page. headerType: 0=normal, 2=BOS, 4=EOS.
func (o *oggWriter) writePage(payload []byte, granulePos uint64, headerType byte) error {
	segments := len(payload) / 255
	if len(payload)%255 != 0 || len(payload) == 0 {
		segments++
	}
	if segments == 0 {
		segments = 1
	}

	segTable := make([]byte, segments)
	remaining := len(payload)
	for i := 0; i < segments; i++ {
		if remaining >= 255 {
			segTable[i] = 255
			remaining -= 255
		} else {
			segTable[i] = byte(remaining)
			remaining = 0
		}
	}

	header := make([]byte, 27+len(segTable))
	copy(header[0:4], "OggS")
	header[4] = 0          // version
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], granulePos)
	binary.LittleEndian.PutUint32(header[14:18], o.serial)
	binary.LittleEndian.PutUint32(header[18:22], o.pageSeqNo)
	header[26] = byte(len(segTable))
	copy(header[27:], segTable)

	crc := oggCRC(header, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	o.pageSeqNo++

	if _, err := o.w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := o.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// oggCRC computes the OGG CRC-32 using the polynomial 0x04C11DB7. This is
// NOT the standard reflected CRC-32; OGG uses the unreflected form defined
// in the Ogg spec.
func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

var oggCRCTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()
