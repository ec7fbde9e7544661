package main

import (
	"fmt"
	"os"

	"pigeonvc/store"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, meaning the caller should exit without booting the UDP listener.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("pigeonvc %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "rooms":
		return cliRooms(args[1:], dbPath)
	case "bans":
		return cliBans(args[1:], dbPath)
	default:
		return false
	}
}

func cliStatus(dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	n, _ := st.RoomCount()
	bans, _ := st.GetBans()
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Rooms: %d\n", n)
	fmt.Printf("Bans: %d\n", len(bans))
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliRooms(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		rooms, err := st.GetRooms()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, r := range rooms {
			fmt.Printf("  [%d] %s\n", r.ID, r.Name)
		}
		return true
	}

	if args[0] == "create" && len(args) > 1 {
		name := args[1]
		id, err := st.CreateRoom(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %q (id=%d)\n", name, id)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: pigeonvc rooms [list|create <name>]\n")
	os.Exit(1)
	return true
}

func cliBans(args []string, dbPath string) bool {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if len(args) == 0 || args[0] == "list" {
		bans, err := st.GetBans()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(bans) == 0 {
			fmt.Println("No bans found.")
			return true
		}
		for _, b := range bans {
			fmt.Printf("  %s  reason=%q  by=%q\n", b.HWID, b.Reason, b.BannedBy)
		}
		return true
	}

	if args[0] == "add" && len(args) > 1 {
		hwid := args[1]
		reason := ""
		if len(args) > 2 {
			reason = args[2]
		}
		if err := st.InsertBan(hwid, reason, "cli"); err != nil {
			fmt.Fprintf(os.Stderr, "error adding ban: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Banned %s\n", hwid)
		return true
	}

	if args[0] == "remove" && len(args) > 1 {
		hwid := args[1]
		if err := st.DeleteBan(hwid); err != nil {
			fmt.Fprintf(os.Stderr, "error removing ban: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Unbanned %s\n", hwid)
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: pigeonvc bans [list|add <hwid> [reason]|remove <hwid>]\n")
	os.Exit(1)
	return true
}
