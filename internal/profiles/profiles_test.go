package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileAccountLookup(t *testing.T) {
	profile := NewProfile("profile-1", "Reader")
	account := &Account{
		ID:           "account-1",
		ProviderName: "Test Library",
		Credentials:  &Credentials{Kind: CredentialsBasic, Username: "reader", Password: "hunter2"},
	}
	profile.AddAccount(account)

	found, err := profile.Account("account-1")
	require.NoError(t, err)
	assert.Same(t, account, found)

	_, err = profile.Account("account-2")
	assert.ErrorContains(t, err, "account-2")
}

func TestDatabaseProfileLookup(t *testing.T) {
	db := NewDatabase()
	assert.Nil(t, db.Profile("profile-1"))

	profile := NewProfile("profile-1", "Reader")
	db.Add(profile)
	assert.Same(t, profile, db.Profile("profile-1"))
}
