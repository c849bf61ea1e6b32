//go:build ignore

// genkeys creates the server signing key pair used by the job ledger.
//
//	go run tools/genkeys.go -dir ./keys
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"copper/internal/security"
)

func main() {
	dir := flag.String("dir", "./keys", "Directory for server.pub and server.priv")
	flag.Parse()

	pub, _, created, err := security.EnsureKeyPair(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen error: %v\n", err)
		os.Exit(2)
	}
	if created {
		fmt.Printf("Generated new key pair in %s\n", *dir)
	} else {
		fmt.Printf("Key pair already present in %s\n", *dir)
	}
	fmt.Println("PUBLIC_KEY_HEX:")
	fmt.Println(hex.EncodeToString(pub))
}
