package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryClaimAndRelease(t *testing.T) {
	dir := NewDirectory()
	alice := &recorder{}

	claim, err := dir.TryClaim("alice", alice)
	require.NoError(t, err)
	assert.Equal(t, "alice", claim.Name)
	assert.NotEmpty(t, claim.ID)

	_, err = dir.TryClaim("alice", &recorder{})
	require.ErrorIs(t, err, ErrNameTaken)

	_, err = dir.TryClaim("bob", &recorder{})
	require.NoError(t, err)

	h, ok := dir.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, alice, h)

	dir.Release("alice")
	dir.Release("alice")
	_, ok = dir.Lookup("alice")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, dir.ListOnline())

	_, err = dir.TryClaim("alice", &recorder{})
	assert.NoError(t, err, "released name can be claimed again")
}

func TestDirectoryNamesAreCaseSensitive(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.TryClaim("Alice", &recorder{})
	require.NoError(t, err)
	_, err = dir.TryClaim("alice", &recorder{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice", "alice"}, dir.ListOnline())
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"plain", "alice", true},
		{"with space", "alice smith", true},
		{"empty", "", false},
		{"command prefix", "/leave", false},
		{"control char", "al\x00ice", false},
		{"too long", "abcdefghijklmnopqrstuvwxyz0123456789", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

func TestDirectoryConcurrentClaimsSameName(t *testing.T) {
	dir := NewDirectory()

	const attempts = 64
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := dir.TryClaim("alice", &recorder{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, []string{"alice"}, dir.ListOnline())
}

func TestDirectoryListOnlineHasNoDuplicates(t *testing.T) {
	dir := NewDirectory()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		name := fmt.Sprintf("user%02d", i%10)
		go func() {
			defer wg.Done()
			_, _ = dir.TryClaim(name, &recorder{})
		}()
		go func() {
			defer wg.Done()
			seen := map[string]bool{}
			for _, n := range dir.ListOnline() {
				if seen[n] {
					t.Errorf("duplicate name %q in ListOnline", n)
				}
				seen[n] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, dir.ListOnline(), 10)
	assert.Equal(t, 10, dir.Count())
}
