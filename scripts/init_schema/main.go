package main

import (
	"log"
	"os"
	"strings"

	"github.com/mahaj/chatcore/pkg/storage/scylla"
)

// Creates the chat keyspace and tables for the scylla backend. In production
// schema changes belong to a migration tool; this covers local development.
func main() {
	scyllaHostsStr := os.Getenv("SCYLLA_HOSTS")
	if scyllaHostsStr == "" {
		scyllaHostsStr = "localhost:9042"
	}
	scyllaHosts := strings.Split(scyllaHostsStr, ",")

	keyspace := os.Getenv("SCYLLA_KEYSPACE")
	if keyspace == "" {
		keyspace = "chat"
	}

	sysSession, err := scylla.NewSession(scyllaHosts, "system")
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}
	err = sysSession.Query(`CREATE KEYSPACE IF NOT EXISTS ` + keyspace +
		` WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`).Exec()
	if err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := scylla.NewSession(scyllaHosts, keyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB %s keyspace: %v", keyspace, err)
	}
	defer session.Close()

	tables := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id text PRIMARY KEY,
			type text,
			created_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS memberships (
			channel_id text,
			user_id text,
			joined_at timestamp,
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			channel_id text,
			seq bigint,
			id text,
			sender_id text,
			body text,
			client_message_id text,
			status text,
			created_at timestamp,
			PRIMARY KEY (channel_id, seq)
		) WITH CLUSTERING ORDER BY (seq DESC)`,
		`CREATE TABLE IF NOT EXISTS message_dedup (
			channel_id text,
			client_message_id text,
			id text,
			sender_id text,
			body text,
			seq bigint,
			status text,
			created_at timestamp,
			PRIMARY KEY (channel_id, client_message_id)
		)`,
		`CREATE TABLE IF NOT EXISTS presence (
			user_id text PRIMARY KEY,
			status text,
			last_event_at timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id text PRIMARY KEY,
			name text
		)`,
	}

	for _, ddl := range tables {
		if err := session.Query(ddl).Exec(); err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
	}

	log.Println("Schema ready.")
}
