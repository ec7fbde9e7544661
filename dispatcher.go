package main

import (
	"context"
	"log"
	"net"
)

// dispatchWorkers is the number of goroutines draining the dispatch queue.
// A fresh goroutine per datagram would also work; a small fixed pool avoids
// unbounded goroutine growth under load.
const dispatchWorkers = 8

// dispatchQueueSize bounds how many received-but-not-yet-handled datagrams
// may be buffered before Listen starts applying backpressure to the recv
// loop itself.
const dispatchQueueSize = 256

type datagramJob struct {
	addr net.Addr
	buf  []byte
}

// Listen is the packet dispatcher: it reads one datagram at a time into a
// 1500-byte buffer and hands it to the worker pool. A receive failure does
// not close the socket — the loop simply continues.
func (s *Server) Listen(ctx context.Context) {
	jobs := make(chan datagramJob, dispatchQueueSize)
	for i := 0; i < dispatchWorkers; i++ {
		go s.dispatchWorker(ctx, jobs)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		default:
		}

		buf := make([]byte, 1500)
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				close(jobs)
				return
			default:
			}
			continue
		}

		select {
		case jobs <- datagramJob{addr: addr, buf: buf[:n]}:
		case <-ctx.Done():
			close(jobs)
			return
		}
	}
}

func (s *Server) dispatchWorker(ctx context.Context, jobs <-chan datagramJob) {
	for job := range jobs {
		pkt, err := DecodeClient(job.buf)
		if err != nil {
			continue // malformed: silently dropped
		}
		if err := s.handle(ctx, job.addr, pkt); err != nil {
			log.Printf("[dispatch] %s: %v", job.addr, err)
		}
	}
}
