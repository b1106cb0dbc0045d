package main

import (
	"log"

	"github.com/evanreyes/promptloom/internal/server"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatal(err)
	}
}
