// Package profiles provides the narrow profile/account lookups the borrowing
// engine performs. It deliberately stores nothing beyond what a borrow run
// needs: profile identity, account identity, credentials for authenticated
// requests, and each account's book database.
package profiles

import (
	"fmt"
	"sync"

	"github.com/openshelf/lending/internal/database/books"
)

// CredentialsKind distinguishes the authentication schemes an account uses.
type CredentialsKind string

const (
	CredentialsBasic CredentialsKind = "basic"
	CredentialsSAML  CredentialsKind = "saml"
)

// Credentials are the stored login credentials for an account. Basic
// credentials are attached to HTTP requests; SAML accounts authenticate
// through an external browser flow.
type Credentials struct {
	Kind     CredentialsKind
	Username string
	Password string
}

// Account is a library account inside a profile.
type Account struct {
	ID           string
	ProviderName string
	Credentials  *Credentials
	BookDatabase *books.Database
}

// Profile is a reader profile holding one or more accounts.
type Profile struct {
	ID   string
	Name string

	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewProfile creates an empty profile.
func NewProfile(id, name string) *Profile {
	return &Profile{
		ID:       id,
		Name:     name,
		accounts: make(map[string]*Account),
	}
}

// AddAccount registers an account with the profile.
func (p *Profile) AddAccount(account *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts[account.ID] = account
}

// Account looks up an account by id. Missing accounts are an error, matching
// the collaborator contract the borrow task depends on.
func (p *Profile) Account(accountID string) (*Account, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	account, ok := p.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("no account with id %q in profile %q", accountID, p.ID)
	}
	return account, nil
}

// Database is the process-wide profile store.
type Database struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewDatabase creates an empty profile store.
func NewDatabase() *Database {
	return &Database{profiles: make(map[string]*Profile)}
}

// Add registers a profile.
func (d *Database) Add(profile *Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[profile.ID] = profile
}

// Profile looks up a profile by id, returning nil when it does not exist.
func (d *Database) Profile(profileID string) *Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.profiles[profileID]
}
