package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPairingFixture(t *testing.T, names ...string) (*Directory, *PairingTable, map[string]*recorder) {
	t.Helper()
	dir := NewDirectory()
	handles := make(map[string]*recorder, len(names))
	for _, n := range names {
		h := &recorder{}
		_, err := dir.TryClaim(n, h)
		require.NoError(t, err)
		handles[n] = h
	}
	return dir, NewPairingTable(dir), handles
}

func TestPairingRequestAndForward(t *testing.T) {
	_, pairs, h := newPairingFixture(t, "alice", "bob")

	require.NoError(t, pairs.RequestPair("alice", "bob"))
	p, ok := pairs.Partner("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", p)

	partner, err := pairs.Forward("alice", "hey")
	require.NoError(t, err)
	assert.Equal(t, "bob", partner)

	in := h["bob"].ofKind(KindPrivateIn)
	require.Len(t, in, 1)
	assert.Equal(t, "[Private] alice: hey\n", in[0].Encode())
	assert.Equal(t, "[Private -> bob] hey\n", PrivateOut(partner, "hey").Encode())
}

func TestPairingRejects(t *testing.T) {
	_, pairs, _ := newPairingFixture(t, "alice", "bob", "carol")

	assert.ErrorIs(t, pairs.RequestPair("alice", "alice"), ErrSelfPair)
	assert.ErrorIs(t, pairs.RequestPair("alice", "zed"), ErrUnavailable)

	require.NoError(t, pairs.RequestPair("alice", "bob"))
	assert.NoError(t, pairs.RequestPair("bob", "alice"), "existing pairing is kept")
	assert.ErrorIs(t, pairs.RequestPair("carol", "bob"), ErrUnavailable, "first writer wins")
	assert.ErrorIs(t, pairs.RequestPair("alice", "carol"), ErrUnavailable)

	p, _ := pairs.Partner("bob")
	assert.Equal(t, "alice", p)
	_, paired := pairs.Partner("carol")
	assert.False(t, paired)
}

func TestPairingForwardWithoutPartner(t *testing.T) {
	_, pairs, _ := newPairingFixture(t, "alice")
	_, err := pairs.Forward("alice", "anyone?")
	assert.ErrorIs(t, err, ErrNoPartner)
}

func TestPairingPartnerOffline(t *testing.T) {
	dir, pairs, _ := newPairingFixture(t, "alice", "bob")
	require.NoError(t, pairs.RequestPair("alice", "bob"))

	dir.Release("bob")
	_, err := pairs.Forward("alice", "hello?")
	require.ErrorIs(t, err, ErrPartnerOffline)

	pairs.Unpair("alice")
	_, ok := pairs.Partner("alice")
	assert.False(t, ok)
	_, ok = pairs.Partner("bob")
	assert.False(t, ok)
}

func TestPairingSendFailureIsPartnerOffline(t *testing.T) {
	_, pairs, h := newPairingFixture(t, "alice", "bob")
	require.NoError(t, pairs.RequestPair("alice", "bob"))
	h["bob"].setFail(true)

	_, err := pairs.Forward("alice", "hi")
	assert.ErrorIs(t, err, ErrPartnerOffline)
	assert.ErrorIs(t, err, ErrSendFailed)
}

func TestUnpairNotifiesPartnerAndIsIdempotent(t *testing.T) {
	_, pairs, h := newPairingFixture(t, "alice", "bob")
	require.NoError(t, pairs.RequestPair("alice", "bob"))

	partner, ok := pairs.Unpair("alice")
	require.True(t, ok)
	assert.Equal(t, "bob", partner)

	sys := h["bob"].ofKind(KindSystem)
	require.Len(t, sys, 1)
	assert.Equal(t, "[Private] alice ended the private chat.\n", sys[0].Encode())

	_, ok = pairs.Unpair("alice")
	assert.False(t, ok)
	_, ok = pairs.Unpair("bob")
	assert.False(t, ok)
	assert.Len(t, h["bob"].ofKind(KindSystem), 1, "second unpair sends nothing")
	assert.Zero(t, pairs.Pairs())
}

func TestPairingSymmetryUnderConcurrency(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("u%02d", i)
	}
	_, pairs, _ := newPairingFixture(t, names...)

	var wg sync.WaitGroup
	for round := 0; round < 200; round++ {
		round := round
		a := names[round%len(names)]
		b := names[(round*7+3)%len(names)]
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pairs.RequestPair(a, b)
		}()
		go func() {
			defer wg.Done()
			if round%3 == 0 {
				pairs.Unpair(b)
			}
		}()
	}
	wg.Wait()

	for _, n := range names {
		p, ok := pairs.Partner(n)
		if !ok {
			continue
		}
		back, ok := pairs.Partner(p)
		require.True(t, ok, "%s -> %s has no way back", n, p)
		assert.Equal(t, n, back)
	}
}

func TestPairingWithDepartedUserFails(t *testing.T) {
	dir, pairs, h := newPairingFixture(t, "alice", "bob", "carol")

	require.NoError(t, pairs.RequestPair("alice", "bob"))
	partner, ok := pairs.Depart("bob")
	require.True(t, ok)
	assert.Equal(t, "alice", partner)
	assert.Len(t, h["alice"].ofKind(KindSystem), 1)

	_, online := dir.Lookup("bob")
	assert.False(t, online)
	assert.ErrorIs(t, pairs.RequestPair("carol", "bob"), ErrUnavailable)
	assert.Zero(t, pairs.Pairs())

	_, ok = pairs.Depart("carol")
	assert.False(t, ok, "departing without a partner reports nothing")
	_, online = dir.Lookup("carol")
	assert.False(t, online)
}

func TestPairingRacingDepartureLeavesNoPair(t *testing.T) {
	dir := NewDirectory()
	pairs := NewPairingTable(dir)

	const rounds = 300
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		a := fmt.Sprintf("a%03d", i)
		b := fmt.Sprintf("b%03d", i)
		_, err := dir.TryClaim(a, &recorder{})
		require.NoError(t, err)
		_, err = dir.TryClaim(b, &recorder{})
		require.NoError(t, err)

		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pairs.RequestPair(a, b)
		}()
		go func() {
			defer wg.Done()
			pairs.Depart(b)
		}()
	}
	wg.Wait()

	assert.Zero(t, pairs.Pairs())
	for i := 0; i < rounds; i++ {
		_, paired := pairs.Partner(fmt.Sprintf("a%03d", i))
		assert.False(t, paired)
	}
}
