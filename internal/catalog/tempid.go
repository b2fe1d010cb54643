package catalog

import (
	"context"
	"sync"
	"time"

	xerrors "github.com/xdbcore/xdb/internal/errors"
)

// Temporary tables never reach the metadata store; their ids come from a
// range no persisted table uses.
const (
	TempTableIDMin int64 = 0x7FFFF000
	TempTableIDMax int64 = 0x7FFFFFFF
)

const (
	tempIDRetries    = 3
	tempIDRetryPause = 10 * time.Millisecond
)

type tempIDPool struct {
	mu   sync.Mutex
	next int64
	used map[int64]bool
}

func newTempIDPool() *tempIDPool {
	return &tempIDPool{next: TempTableIDMin, used: make(map[int64]bool)}
}

// acquire hands out the next free id, wrapping to the start of the range
// when the end is reached. When the whole range is taken it waits briefly
// for sessions to drop tables and gives up after a few passes.
func (p *tempIDPool) acquire(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < tempIDRetries; attempt++ {
		if id, ok := p.scan(); ok {
			return id, nil
		}
		select {
		case <-time.After(tempIDRetryPause):
		case <-ctx.Done():
			return 0, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject, "no temporary table id is free: "+ctx.Err().Error())
		}
	}
	return 0, xerrors.NewIntegrityError(xerrors.CodeDuplicateObject, "no temporary table id is free")
}

func (p *tempIDPool) scan() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := TempTableIDMax - TempTableIDMin + 1
	for i := int64(0); i < size; i++ {
		id := p.next
		p.next++
		if p.next > TempTableIDMax {
			p.next = TempTableIDMin
		}
		if !p.used[id] {
			p.used[id] = true
			return id, true
		}
	}
	return 0, false
}

func (p *tempIDPool) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, id)
}

func (p *tempIDPool) inUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}

// IsTempTableID reports whether id belongs to the temporary range.
func IsTempTableID(id int64) bool {
	return id >= TempTableIDMin && id <= TempTableIDMax
}
