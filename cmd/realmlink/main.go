package main

import (
	"log"

	"github.com/MrSnakeDoc/realmlink/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ realmlink failed: %v", err)
	}
}
