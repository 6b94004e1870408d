package core

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// ValidName reports whether s satisfies the username/room-name charset and
// length rule shared by accounts and rooms.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// Account is a registered user: username, password hash, and the client's
// stored public key. The server never interprets public_key.
type Account struct {
	Username     string `json:"-"`
	PasswordHash string `json:"password_hash"`
	PublicKey    string `json:"public_key"`
}

func hashPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// Directory is the in-memory registry of accounts keyed by username.
// order keeps registration order for deterministic Names() output (the
// CLI's account list); on load it is rebuilt from the persisted map's keys,
// which LoadUsers sorts.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string
}

func NewDirectory() *Directory {
	return &Directory{accounts: make(map[string]*Account)}
}

// Register creates a new account. Caller already holds the dispatcher's
// global lock; Directory's own mutex exists so the CLI and admin API can
// read it without taking the dispatcher lock.
func (d *Directory) Register(username, password, confirm, publicKey string) *appError {
	if !ValidName(username) {
		return newAppError(codeInvalidArgument, "invalid username")
	}
	if password != confirm {
		return newAppError(codeMismatch, "passwords do not match")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[username]; ok {
		return newAppError(codeAlreadyExists, "username taken")
	}
	d.accounts[username] = &Account{
		Username:     username,
		PasswordHash: hashPassword(password),
		PublicKey:    publicKey,
	}
	d.order = append(d.order, username)
	return nil
}

// Login validates credentials and overwrites the stored public key, since
// clients regenerate a fresh keypair per session.
func (d *Directory) Login(username, password, publicKey string) (*Account, *appError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[username]
	if !ok {
		return nil, newAppError(codeNotFound, "no such account")
	}
	if acct.PasswordHash != hashPassword(password) {
		return nil, newAppError(codeBadCredentials, "bad credentials")
	}
	acct.PublicKey = publicKey
	return acct, nil
}

// Get returns the account for username, or nil if none exists.
func (d *Directory) Get(username string) *Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.accounts[username]
}

// EditPassword implements /account edit's password-change path.
func (d *Directory) EditPassword(username, newPassword, confirm string) *appError {
	if newPassword != confirm {
		return newAppError(codeMismatch, "passwords do not match")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[username]
	if !ok {
		return newAppError(codeNotFound, "no such account")
	}
	acct.PasswordHash = hashPassword(newPassword)
	return nil
}

// RenameAccount moves an account to a new username. Callers are
// responsible for rewriting room roles/whitelist/bans/mutes references
// (RoomRegistry.RenameUser) under the same dispatcher lock hold.
func (d *Directory) RenameAccount(oldName, newName string) *appError {
	if !ValidName(newName) {
		return newAppError(codeInvalidArgument, "invalid username")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	acct, ok := d.accounts[oldName]
	if !ok {
		return newAppError(codeNotFound, "no such account")
	}
	if _, clash := d.accounts[newName]; clash {
		return newAppError(codeAlreadyExists, "username taken")
	}
	delete(d.accounts, oldName)
	acct.Username = newName
	d.accounts[newName] = acct
	for i, n := range d.order {
		if n == oldName {
			d.order[i] = newName
			break
		}
	}
	return nil
}

// Delete removes an account outright. Cascading into rooms is the
// dispatcher's responsibility (RoomRegistry.PurgeUser), since Directory
// does not know about rooms.
func (d *Directory) Delete(username string) *appError {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[username]; !ok {
		return newAppError(codeNotFound, "no such account")
	}
	delete(d.accounts, username)
	for i, n := range d.order {
		if n == username {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// Names returns usernames in registration order.
func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// RestoreAccount upserts a single account from a vault import
// (/account import), appending to the order slice if the username is new.
func (d *Directory) RestoreAccount(acct *Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.accounts[acct.Username]; !ok {
		d.order = append(d.order, acct.Username)
	}
	d.accounts[acct.Username] = acct
}

// Snapshot returns the persisted shape for data/users.json.
func (d *Directory) Snapshot() map[string]*Account {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]*Account, len(d.accounts))
	for k, v := range d.accounts {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Restore replaces the directory contents from a loaded snapshot, taking
// the order slice exactly as the caller supplies it (the caller controls
// ordering, e.g. from a JSON object whose key order was not preserved by
// encoding/json).
func (d *Directory) Restore(accounts map[string]*Account, order []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts = make(map[string]*Account, len(accounts))
	for name, acct := range accounts {
		acct.Username = name
		d.accounts[name] = acct
	}
	d.order = order
}
