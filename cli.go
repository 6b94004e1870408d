package main

import (
	"fmt"
	"os"

	"streamline/internal/core"
	"streamline/internal/store"
)

// RunCLI handles subcommand execution, reading the JSON store directly
// without starting the chat server or admin API. Returns true if a
// subcommand was handled.
func RunCLI(args []string, dataDir string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("streamline %s\n", Version)
		return true
	case "status":
		return cliStatus(dataDir)
	case "room":
		return cliRoom(args[1:], dataDir)
	case "account":
		return cliAccount(args[1:], dataDir)
	default:
		return false
	}
}

func loadDirAndRooms(dataDir string) (*core.Directory, *core.RoomRegistry) {
	st := store.New(dataDir)
	dir := core.NewDirectory()
	rooms := core.NewRoomRegistry()
	if err := st.LoadUsers(dir); err != nil {
		fmt.Fprintf(os.Stderr, "error loading users: %v\n", err)
		os.Exit(1)
	}
	if err := st.LoadRooms(rooms); err != nil {
		fmt.Fprintf(os.Stderr, "error loading rooms: %v\n", err)
		os.Exit(1)
	}
	return dir, rooms
}

func cliStatus(dataDir string) bool {
	dir, rooms := loadDirAndRooms(dataDir)
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Accounts: %d\n", len(dir.Names()))
	fmt.Printf("Rooms: %d\n", len(rooms.Names()))
	return true
}

func cliRoom(args []string, dataDir string) bool {
	if len(args) == 0 || args[0] == "list" {
		_, rooms := loadDirAndRooms(dataDir)
		names := rooms.Names()
		if len(names) == 0 {
			fmt.Println("No rooms found.")
			return true
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: streamline room list\n")
	os.Exit(1)
	return true
}

func cliAccount(args []string, dataDir string) bool {
	if len(args) == 0 || args[0] == "list" {
		dir, _ := loadDirAndRooms(dataDir)
		names := dir.Names()
		if len(names) == 0 {
			fmt.Println("No accounts found.")
			return true
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		return true
	}

	fmt.Fprintf(os.Stderr, "Usage: streamline account list\n")
	os.Exit(1)
	return true
}
