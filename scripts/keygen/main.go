// Command keygen prints a fresh master key for the credential keyring.
//
//	go run ./scripts/keygen
//	export LADDERBOT_MASTER_KEY=<output>
package main

import (
	"fmt"
	"log"

	"ladderbot/pkg/crypto"
)

func main() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	fmt.Println(key)
}
