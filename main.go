package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"pigeonvc/store"
)

func main() {
	// Check for CLI subcommands before parsing flags: inspect os.Args[1]
	// before flag.Parse so "rooms list" etc. never boot the UDP listener.
	if len(os.Args) > 1 {
		cliDB := "pigeonvc.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", "0.0.0.0:8897", "UDP voice/control listen address")
	apiAddr := flag.String("api-addr", ":8080", "admin HTTP API listen address (empty to disable)")
	dbPath := flag.String("db", "pigeonvc.db", "SQLite database path")
	testUser := flag.String("test-user", "", "name for a synthetic test client (empty to disable)")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()
	seedDefaults(st)

	authorizer := store.NewAuthorizer(st)
	disconnectRecorder := store.NewDisconnectRecorder(st)

	srv, err := NewServer(*addr, authorizer, disconnectRecorder)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	srv.SetDataDir(filepath.Dir(*dbPath))

	rooms, err := st.GetRooms()
	if err != nil {
		log.Fatalf("[store] load rooms: %v", err)
	}
	for _, r := range rooms {
		srv.AddRoomWithID(r.ID, r.Name)
	}
	log.Printf("[server] loaded %d rooms from %s", len(rooms), *dbPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go srv.Listen(ctx)
	go srv.RunSweeper(ctx)
	go RunMetrics(ctx, srv, 5*time.Second)

	if *testUser != "" {
		go RunTestBot(ctx, *addr, *testUser, "testbot-"+*testUser)
	}

	if *apiAddr != "" {
		api := NewAPIServer(srv, st)
		go api.Run(ctx, *apiAddr)
		log.Printf("[api] listening on %s", *apiAddr)
	}

	log.Printf("[server] listening on %s", *addr)
	<-ctx.Done()
}

// seedDefaults populates the room catalog on first run, matching the
// original deployment's three starter rooms.
func seedDefaults(st *store.Store) {
	n, err := st.RoomCount()
	if err != nil {
		log.Printf("[store] room count: %v", err)
		return
	}
	if n > 0 {
		return
	}
	for _, name := range []string{"Lobby", "Gaming", "Music"} {
		if _, err := st.CreateRoom(name); err != nil {
			log.Printf("[store] seed room %q: %v", name, err)
		}
	}
}
