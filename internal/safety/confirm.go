package safety

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultConfirmTTL is how long a confirmation token stays valid.
const DefaultConfirmTTL = 5 * time.Minute

type pendingConfirmation struct {
	tool      string
	target    string
	createdAt time.Time
}

// ConfirmationTracker issues single-use, time-limited tokens that a caller
// must echo back before a destructive tool runs. A token is bound to the
// tool and target it was issued for.
type ConfirmationTracker struct {
	destructive map[string]struct{}
	ttl         time.Duration
	now         func() time.Time

	mu     sync.Mutex
	tokens map[string]pendingConfirmation
}

// NewConfirmationTracker returns a tracker for the given destructive tool
// names. A ttl of zero or less selects DefaultConfirmTTL.
func NewConfirmationTracker(destructiveTools []string, ttl time.Duration) *ConfirmationTracker {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	ct := &ConfirmationTracker{
		destructive: make(map[string]struct{}, len(destructiveTools)),
		ttl:         ttl,
		now:         time.Now,
		tokens:      make(map[string]pendingConfirmation),
	}
	for _, tool := range destructiveTools {
		ct.destructive[tool] = struct{}{}
	}
	return ct
}

// NeedsConfirmation reports whether tool was registered as destructive.
func (ct *ConfirmationTracker) NeedsConfirmation(tool string) bool {
	_, ok := ct.destructive[tool]
	return ok
}

// sweepExpired drops stale tokens. The caller must hold ct.mu.
func (ct *ConfirmationTracker) sweepExpired(now time.Time) {
	for token, p := range ct.tokens {
		if now.Sub(p.createdAt) > ct.ttl {
			delete(ct.tokens, token)
		}
	}
}

// RequestConfirmation issues a new token for tool acting on target.
func (ct *ConfirmationTracker) RequestConfirmation(tool, target string) string {
	token := generateToken()
	now := ct.now()

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.sweepExpired(now)
	ct.tokens[token] = pendingConfirmation{tool: tool, target: target, createdAt: now}
	return token
}

// Confirm consumes token and reports whether it was issued for the same tool
// and target and has not expired. A token is consumed even when it does not
// match.
func (ct *ConfirmationTracker) Confirm(token, tool, target string) bool {
	if token == "" {
		return false
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()

	p, ok := ct.tokens[token]
	if !ok {
		return false
	}
	delete(ct.tokens, token)

	if ct.now().Sub(p.createdAt) > ct.ttl {
		return false
	}
	return p.tool == tool && p.target == target
}

// Pending returns the number of outstanding tokens.
func (ct *ConfirmationTracker) Pending() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return len(ct.tokens)
}

func generateToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic("safety: read random token: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
