package core

import (
	"fmt"
	"sync"

	"github.com/vovakirdan/linechat-server/internal/proto"
)

// PairingTable is the symmetric one-to-one private chat relation.
type PairingTable struct {
	dir *Directory

	mu       sync.Mutex
	partners map[string]string
}

// NewPairingTable creates an empty table resolving names through dir.
func NewPairingTable(dir *Directory) *PairingTable {
	return &PairingTable{
		dir:      dir,
		partners: make(map[string]string),
	}
}

// RequestPair pairs a with b. It fails when b is offline or either side is
// already paired with someone else; an existing a<->b pairing is kept.
func (p *PairingTable) RequestPair(a, b string) error {
	if a == b {
		return coreError(ErrCodeSelfPair, "You cannot start a private chat with yourself.", ErrSelfPair)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, online := p.dir.Lookup(b); !online {
		return coreError(ErrCodeUnavailable, fmt.Sprintf("User '%s' is not online.", b), ErrUnavailable)
	}
	if cur, ok := p.partners[b]; ok && cur != a {
		return coreError(ErrCodeUnavailable, fmt.Sprintf("User '%s' is already in a private chat.", b), ErrUnavailable)
	}
	if cur, ok := p.partners[a]; ok && cur != b {
		return coreError(ErrCodeUnavailable, fmt.Sprintf("You are already chatting with '%s'.", cur), ErrUnavailable)
	}
	p.partners[a] = b
	p.partners[b] = a
	return nil
}

// Unpair ends name's private chat. The partner's side is cleared only if it
// still points back at name. The partner, if online, is told the chat ended.
func (p *PairingTable) Unpair(name string) (string, bool) {
	p.mu.Lock()
	partner, ok := p.unpairLocked(name)
	p.mu.Unlock()

	if ok {
		p.notifyEnded(partner, name)
	}
	return partner, ok
}

// Depart unpairs name and releases it from the directory under the pairing
// lock, so a concurrent RequestPair either sees name online and is undone
// here, or sees it offline.
func (p *PairingTable) Depart(name string) (string, bool) {
	p.mu.Lock()
	partner, ok := p.unpairLocked(name)
	p.dir.Release(name)
	p.mu.Unlock()

	if ok {
		p.notifyEnded(partner, name)
	}
	return partner, ok
}

func (p *PairingTable) unpairLocked(name string) (string, bool) {
	partner, ok := p.partners[name]
	if !ok {
		return "", false
	}
	delete(p.partners, name)
	if p.partners[partner] == name {
		delete(p.partners, partner)
	}
	return partner, true
}

func (p *PairingTable) notifyEnded(partner, name string) {
	if h, online := p.dir.Lookup(partner); online {
		_ = h.Send(System(proto.TagPrivate, fmt.Sprintf("%s ended the private chat.", name)))
	}
}

// Partner returns name's current partner.
func (p *PairingTable) Partner(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	partner, ok := p.partners[name]
	return partner, ok
}

// Forward delivers text from sender to its partner and returns the partner's
// name. A partner that is gone or cannot be reached yields ErrPartnerOffline;
// the caller is expected to Unpair.
func (p *PairingTable) Forward(sender, text string) (string, error) {
	partner, ok := p.Partner(sender)
	if !ok {
		return "", coreError(ErrCodeNoPartner, "You are not in a private chat.", ErrNoPartner)
	}
	h, online := p.dir.Lookup(partner)
	if !online {
		return partner, coreError(ErrCodePartnerOffline, fmt.Sprintf("%s is no longer online.", partner), ErrPartnerOffline)
	}
	if err := h.Send(PrivateIn(sender, text)); err != nil {
		return partner, coreError(ErrCodePartnerOffline, fmt.Sprintf("%s is no longer reachable.", partner), fmt.Errorf("%w: %w", ErrPartnerOffline, err))
	}
	return partner, nil
}

// Pairs returns the number of active pairings.
func (p *PairingTable) Pairs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.partners) / 2
}
