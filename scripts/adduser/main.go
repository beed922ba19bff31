// Command adduser enrolls a control-panel operator in the trade store. The
// API has no open registration; this is the only way in.
//
//	go run ./scripts/adduser -db ./data/ladderbot.db -email ops@example.com -password <pw>
package main

import (
	"context"
	"flag"
	"log"

	"ladderbot/internal/api"
	"ladderbot/pkg/db"
)

func main() {
	dbPath := flag.String("db", "./data/ladderbot.db", "sqlite trade store")
	email := flag.String("email", "", "operator email")
	password := flag.String("password", "", "operator password")
	flag.Parse()

	if *email == "" || *password == "" {
		log.Fatal("email and password are required")
	}

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	user, err := api.CreateOperator(context.Background(), database, *email, *password)
	if err != nil {
		log.Fatalf("enroll operator: %v", err)
	}
	log.Printf("operator %s enrolled (id %s)", user.Email, user.ID)
}
