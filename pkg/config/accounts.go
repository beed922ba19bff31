package config

import (
	"encoding/json"
	"fmt"
	"os"

	"ladderbot/pkg/crypto"
	"ladderbot/pkg/exchange"
)

// AccountConfig is one venue account. Key material is stored sealed and only
// decrypted in memory at load time.
type AccountConfig struct {
	ID        string `json:"id"`
	Exchange  string `json:"exchange"`
	APIKey    string `json:"api_key"`    // sealed on disk
	APISecret string `json:"api_secret"` // sealed on disk
	Password  string `json:"password,omitempty"`
	Testnet   bool   `json:"testnet,omitempty"`
	Disabled  bool   `json:"disabled,omitempty"`
}

// Credentials converts the account to venue credentials.
func (a AccountConfig) Credentials() exchange.Credentials {
	return exchange.Credentials{
		Exchange:  a.Exchange,
		APIKey:    a.APIKey,
		APISecret: a.APISecret,
		Password:  a.Password,
		Testnet:   a.Testnet,
	}
}

type accountsFile struct {
	Accounts []AccountConfig `json:"accounts"`
}

// LoadAccounts reads the account file and unseals key material with the
// keyring. A ciphertext that fails to open is a hard error: trading with
// partially loaded credentials is worse than not starting.
func LoadAccounts(path string, kr *crypto.Keyring) ([]AccountConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	var file accountsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %s defines no accounts", path)
	}

	seen := make(map[string]struct{}, len(file.Accounts))
	out := make([]AccountConfig, 0, len(file.Accounts))
	for _, acct := range file.Accounts {
		if acct.ID == "" {
			return nil, fmt.Errorf("account with empty id in %s", path)
		}
		if _, dup := seen[acct.ID]; dup {
			return nil, fmt.Errorf("account %q defined twice", acct.ID)
		}
		seen[acct.ID] = struct{}{}
		if acct.Disabled {
			continue
		}
		if acct.APIKey, err = kr.Open(acct.APIKey); err != nil {
			return nil, fmt.Errorf("account %s: unseal api key: %w", acct.ID, err)
		}
		if acct.APISecret, err = kr.Open(acct.APISecret); err != nil {
			return nil, fmt.Errorf("account %s: unseal api secret: %w", acct.ID, err)
		}
		if acct.Password != "" {
			if acct.Password, err = kr.Open(acct.Password); err != nil {
				return nil, fmt.Errorf("account %s: unseal password: %w", acct.ID, err)
			}
		}
		out = append(out, acct)
	}
	return out, nil
}

// SealAccounts encrypts key material and writes the account file. Used by the
// enrollment tooling, not the engine itself.
func SealAccounts(path string, accounts []AccountConfig, kr *crypto.Keyring) error {
	sealed := make([]AccountConfig, len(accounts))
	for i, acct := range accounts {
		var err error
		if acct.APIKey, err = kr.Seal(acct.APIKey); err != nil {
			return fmt.Errorf("account %s: seal api key: %w", acct.ID, err)
		}
		if acct.APISecret, err = kr.Seal(acct.APISecret); err != nil {
			return fmt.Errorf("account %s: seal api secret: %w", acct.ID, err)
		}
		if acct.Password != "" {
			if acct.Password, err = kr.Seal(acct.Password); err != nil {
				return fmt.Errorf("account %s: seal password: %w", acct.ID, err)
			}
		}
		sealed[i] = acct
	}
	data, err := json.MarshalIndent(accountsFile{Accounts: sealed}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write accounts file: %w", err)
	}
	return nil
}
