// Package refs keeps the pool of reference images sent with reference-guided
// strategies. Uploaded asset URLs expire, so a Refresher periodically
// re-publishes local copies and swaps in the new URL list.
package refs

import (
	"sync/atomic"
	"time"
)

// DefaultURLs is the reference set the pool starts from.
var DefaultURLs = []string{
	"https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/printdiy1/M00/B9/17/oYYBAGll6wKAJWQTABAy8xidGMs775.png",
	"https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/printdiy1/M00/B9/18/oYYBAGll6wqAKfDIABUkz0aLF5o094.png",
	"https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/printdiy1/M00/B9/18/oYYBAGll6xCAMoBzAA8pW2TABec002.png",
	"https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/printdiy1/M00/B9/19/oYYBAGll6xWAaDzhAA4BUvSCQIM375.png",
}

// Snapshot is an immutable reference URL list. Never modify URLs in place.
type Snapshot struct {
	URLs      []string  `json:"urls"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pool holds the current snapshot. Reads are lock-free.
type Pool struct {
	cur atomic.Pointer[Snapshot]
}

// NewPool creates a pool seeded with urls.
func NewPool(urls []string) *Pool {
	p := &Pool{}
	p.cur.Store(&Snapshot{URLs: append([]string(nil), urls...), UpdatedAt: time.Now()})
	return p
}

// Current returns the active snapshot.
func (p *Pool) Current() *Snapshot {
	return p.cur.Load()
}

// URLs returns the active URL list. Callers must not modify it.
func (p *Pool) URLs() []string {
	return p.cur.Load().URLs
}

// Swap replaces the active snapshot and returns the previous one.
func (p *Pool) Swap(s *Snapshot) *Snapshot {
	return p.cur.Swap(s)
}
