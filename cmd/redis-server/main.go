// Command redis-server runs an in-memory Redis-compatible server, as a
// primary or as a replica of another server.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
