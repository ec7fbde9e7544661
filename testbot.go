package main

import (
	"context"
	"log"
	"net"
	"time"
)

// RunTestBot drives a synthetic UDP client against listenAddr, joining room
// 0 and sending a periodic fixed-size "tone" payload as Talk frames. The
// payload is a deterministic filler buffer rather than encoded audio: the
// Talk payload is opaque bytes with no codec requirement at the transport
// layer, so no audio encoder is needed to exercise the wire path end-to-end.
func RunTestBot(ctx context.Context, listenAddr, name, hwid string) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		log.Printf("[testbot] resolve %s: %v", listenAddr, err)
		return
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Printf("[testbot] dial %s: %v", listenAddr, err)
		return
	}
	defer conn.Close()

	if _, err := conn.Write(encodeJoin(name, hwid, 0)); err != nil {
		log.Printf("[testbot] join: %v", err)
		return
	}
	log.Printf("[testbot] %q joined room 0 via %s", name, listenAddr)

	tone := toneFrame()

	talkTicker := time.NewTicker(20 * time.Millisecond)
	defer talkTicker.Stop()
	aliveTicker := time.NewTicker(2 * time.Second)
	defer aliveTicker.Stop()

	defer func() {
		conn.Write(encodeLeave())
		log.Printf("[testbot] %q left", name)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-talkTicker.C:
			if _, err := conn.Write(encodeTalk(tone)); err != nil {
				log.Printf("[testbot] talk: %v", err)
			}
		case <-aliveTicker.C:
			if _, err := conn.Write(encodeAlive(0)); err != nil {
				log.Printf("[testbot] alive: %v", err)
			}
		}
	}
}

// toneFrame returns a fixed-size deterministic filler buffer standing in
// for a 20ms audio frame.
func toneFrame() []byte {
	const frameSize = 160
	buf := make([]byte, frameSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}
