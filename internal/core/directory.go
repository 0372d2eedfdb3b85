package core

import (
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/vovakirdan/linechat-server/internal/utils"
)

// MaxNameLength is the longest display name accepted, in runes.
const MaxNameLength = 32

// Claim is returned by a successful TryClaim.
type Claim struct {
	Name  string
	ID    string
	Since time.Time
}

type directoryEntry struct {
	handle Sender
	claim  Claim
}

// Directory is the registry of claimed display names and their handles.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]directoryEntry
}

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]directoryEntry)}
}

// ValidateName checks a proposed display name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return coreError(ErrCodeInvalidName, "Username cannot be empty.", ErrInvalidName)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return coreError(ErrCodeInvalidName, "Username is too long.", ErrInvalidName)
	case strings.HasPrefix(name, "/"):
		return coreError(ErrCodeInvalidName, "Username cannot start with '/'.", ErrInvalidName)
	case strings.IndexFunc(name, unicode.IsControl) >= 0:
		return coreError(ErrCodeInvalidName, "Username contains invalid characters.", ErrInvalidName)
	}
	return nil
}

// TryClaim atomically reserves name for handle. A name stays claimed until
// Release, so a session that is still tearing down keeps its name.
func (d *Directory) TryClaim(name string, handle Sender) (Claim, error) {
	if err := ValidateName(name); err != nil {
		return Claim{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.entries[name]; taken {
		return Claim{}, coreError(ErrCodeNameTaken, "Username already taken.", ErrNameTaken)
	}
	claim := Claim{Name: name, ID: utils.NewID(), Since: time.Now()}
	d.entries[name] = directoryEntry{handle: handle, claim: claim}
	return claim, nil
}

// Release frees name. Releasing an unclaimed name is a no-op.
func (d *Directory) Release(name string) {
	d.mu.Lock()
	delete(d.entries, name)
	d.mu.Unlock()
}

// Lookup returns the handle currently bound to name.
func (d *Directory) Lookup(name string) (Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[name]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// ListOnline returns a sorted snapshot of claimed names.
func (d *Directory) ListOnline() []string {
	d.mu.RLock()
	names := make([]string, 0, len(d.entries))
	for name := range d.entries {
		names = append(names, name)
	}
	d.mu.RUnlock()

	slices.Sort(names)
	return names
}

// Count returns the number of claimed names.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
