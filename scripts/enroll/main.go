// Command enroll seals a plaintext accounts file into the encrypted form the
// engine loads at startup. The keyring comes from LADDERBOT_MASTER_KEY.
//
//	go run ./scripts/enroll -in accounts.plain.json -out config/accounts.enc.json
//
// The input has the same shape as the output, with api_key/api_secret (and
// optional password) in plaintext.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"ladderbot/pkg/config"
	"ladderbot/pkg/crypto"
)

func main() {
	in := flag.String("in", "accounts.plain.json", "plaintext accounts file")
	out := flag.String("out", "config/accounts.enc.json", "sealed output file")
	flag.Parse()

	kr, err := crypto.LoadKeyring()
	if err != nil {
		log.Fatalf("load keyring: %v", err)
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatalf("read %s: %v", *in, err)
	}
	var file struct {
		Accounts []config.AccountConfig `json:"accounts"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		log.Fatalf("parse %s: %v", *in, err)
	}
	if len(file.Accounts) == 0 {
		log.Fatalf("%s defines no accounts", *in)
	}
	for _, acct := range file.Accounts {
		if acct.ID == "" || acct.APIKey == "" || acct.APISecret == "" {
			log.Fatalf("account %q is missing id or key material", acct.ID)
		}
	}

	if err := config.SealAccounts(*out, file.Accounts, kr); err != nil {
		log.Fatalf("seal accounts: %v", err)
	}
	log.Printf("sealed %d accounts into %s", len(file.Accounts), *out)
}
