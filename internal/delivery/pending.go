package delivery

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// DefaultPendingTTL is how long a wake prompt stays answerable.
const DefaultPendingTTL = 30 * time.Second

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
	codeAttempts = 16
)

var errCodeSpace = errors.New("delivery: could not allocate a unique verify code")

// PendingDelivery is content parked until the wake prompt is answered.
type PendingDelivery struct {
	ID              string    `json:"id"`
	VerifyCode      string    `json:"verify_code"`
	ConversationKey string    `json:"conversation_key"`
	Content         Content   `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// PendingSet holds parked deliveries keyed by verify code.
type PendingSet struct {
	mu      sync.Mutex
	entries map[string]*PendingDelivery
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingSet creates an empty set. A non-positive ttl uses DefaultPendingTTL.
func NewPendingSet(ttl time.Duration) *PendingSet {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingSet{
		entries: make(map[string]*PendingDelivery),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Add parks content under a fresh verify code unique among live entries.
func (p *PendingSet) Add(id, key string, content Content) (*PendingDelivery, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gcLocked()
	for i := 0; i < codeAttempts; i++ {
		code, err := newVerifyCode()
		if err != nil {
			return nil, err
		}
		if _, taken := p.entries[code]; taken {
			continue
		}
		pd := &PendingDelivery{
			ID:              id,
			VerifyCode:      code,
			ConversationKey: key,
			Content:         content,
			CreatedAt:       p.now(),
		}
		p.entries[code] = pd
		return pd, nil
	}
	return nil, errCodeSpace
}

// Take removes the entry for code. ok is true only for a live entry; an entry
// that expired before collection is still returned, with ok false, so the
// caller can record it. Each entry is returned at most once.
func (p *PendingSet) Take(code string) (pd *PendingDelivery, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pd, found := p.entries[code]
	if !found {
		return nil, false
	}
	delete(p.entries, code)
	return pd, !p.expiredLocked(pd)
}

// Peek returns the live entry for code without removing it.
func (p *PendingSet) Peek(code string) (*PendingDelivery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pd, found := p.entries[code]
	if !found || p.expiredLocked(pd) {
		return nil, false
	}
	return pd, true
}

// GC drops expired entries and returns them.
func (p *PendingSet) GC() []*PendingDelivery {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gcLocked()
}

// Len counts entries, expired or not.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *PendingSet) gcLocked() []*PendingDelivery {
	var dropped []*PendingDelivery
	for code, pd := range p.entries {
		if p.expiredLocked(pd) {
			delete(p.entries, code)
			dropped = append(dropped, pd)
		}
	}
	return dropped
}

func (p *PendingSet) expiredLocked(pd *PendingDelivery) bool {
	return p.now().Sub(pd.CreatedAt) >= p.ttl
}

func newVerifyCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
