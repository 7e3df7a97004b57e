// Package main is a development utility that generates a session signing
// secret for the console. It prints the value as an ORION_SESSION_SECRET
// assignment ready to paste into an env file or a secret manager.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
)

func main() {
	size := flag.Int("bytes", 32, "number of random bytes (hex output is twice as long)")
	flag.Parse()

	if *size < 32 {
		log.Fatal("refusing to generate a secret shorter than 32 bytes")
	}

	secret := make([]byte, *size)
	if _, err := rand.Read(secret); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("ORION_SESSION_SECRET=%s\n", hex.EncodeToString(secret))
}
