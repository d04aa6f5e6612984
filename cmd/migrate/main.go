// Command migrate applies or rolls back the credential store schema
// outside the server process.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"pollux-go/internal/migrations"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres DSN (defaults to DATABASE_URL)")
	action := flag.String("action", "up", "up | down | version")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -action down")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no DSN: pass -dsn or set DATABASE_URL")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	switch *action {
	case "up":
		if err := migrations.PostgresUp(db); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := migrations.PostgresDown(db, *steps); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		log.Printf("rolled back %d migration(s)", *steps)
	case "version":
		version, dirty, err := migrations.PostgresVersion(db)
		if err != nil {
			log.Fatalf("failed to read schema version: %v", err)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
	default:
		log.Fatalf("unknown action %q", *action)
	}
}
