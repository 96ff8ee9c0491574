// Package main is the presence-service entry point (HTTP + WebSocket).
package main

import (
	"log"

	"github.com/faithlink/presence-service/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
