package vapix

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	challengeCacheSize = 256
	challengeTTL       = 60 * time.Second
)

// cachedChallenge is a live server nonce plus the counter that produces the
// nc directive for each reuse of that nonce.
type cachedChallenge struct {
	challenge *Challenge
	storedAt  time.Time
	nc        uint32
}

// challengeCache remembers recent digest challenges per host so follow-up
// requests answer the probe's 401 directly instead of paying an extra
// challenge round-trip. Entries expire after challengeTTL; cameras rotate
// nonces aggressively and a stale nonce just costs one retry.
type challengeCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *cachedChallenge]
}

func newChallengeCache() *challengeCache {
	cache, _ := lru.New[string, *cachedChallenge](challengeCacheSize)
	return &challengeCache{cache: cache}
}

// next returns the cached challenge for host and the nc to use for this
// attempt. Returns nil when nothing fresh is cached.
func (cc *challengeCache) next(host string) (*Challenge, uint32) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	entry, ok := cc.cache.Get(host)
	if !ok {
		return nil, 0
	}
	if time.Since(entry.storedAt) > challengeTTL {
		cc.cache.Remove(host)
		return nil, 0
	}
	entry.nc++
	return entry.challenge, entry.nc
}

// put stores a freshly received challenge. The receiving attempt answers
// with nc=00000001, so the counter starts at one.
func (cc *challengeCache) put(host string, ch *Challenge) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache.Add(host, &cachedChallenge{challenge: ch, storedAt: time.Now(), nc: 1})
}

// remove drops the entry for host, used when a server marks its nonce stale.
func (cc *challengeCache) remove(host string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache.Remove(host)
}
