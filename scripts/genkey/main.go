// genkey generates a Beacon ingest API key for bootstrap deployments.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Prints a fresh raw key in the bcn_<prefix>_<secret> format. Set it as
// BEACON_API_KEY so the server installs it at startup; the server stores
// only an Argon2id hash, so keep the raw value somewhere safe. Without a
// configured key the server mints an ephemeral dev key on every restart,
// invalidating all existing SDK configurations.
package main

import (
	"fmt"
	"os"

	"github.com/openfleet/beacon/internal/apikey"
)

func main() {
	rawKey, prefix, err := apikey.GenerateRawKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("BEACON_API_KEY=%s\n", rawKey)
	fmt.Printf("prefix: %s\n", prefix)
	fmt.Println("The server only ever stores a hash; save the raw key now.")
}
