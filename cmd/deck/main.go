package main

import (
	"log"

	"github.com/quarterdeck/deck/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ deck failed to start: %v", err)
	}
}
