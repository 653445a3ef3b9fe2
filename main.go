// ABOUTME: Entry point for the contactsync CLI and MCP server
// ABOUTME: Loads .env files and hands off to the cobra command tree
package main

import (
	"fmt"
	"os"

	"github.com/harperreed/contactsync/cli"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	if err := cli.Execute(version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
