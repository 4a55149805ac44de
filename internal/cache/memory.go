package cache

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// expiryLen は値の先頭に格納する有効期限（UnixNano）のバイト数。
const expiryLen = 8

// MemoryStore はfastcacheを使ったプロセス内ストア。
// fastcacheはTTLを持たないため、有効期限を値の先頭に埋め込む。
type MemoryStore struct {
	fc  *fastcache.Cache
	now func() time.Time

	mu     sync.Mutex
	groups map[string]map[string]struct{}
	// keyGroups はキーから所属グループへの逆引き。期限切れのキーを索引から外すのに使う。
	keyGroups map[string]string
}

// NewMemoryStore はmaxBytesを上限とするMemoryStoreを生成する。
func NewMemoryStore(maxBytes int) *MemoryStore {
	return &MemoryStore{
		fc:     fastcache.New(maxBytes),
		now:    time.Now,
		groups:    make(map[string]map[string]struct{}),
		keyGroups: make(map[string]string),
	}
}

// Get はキーの値を返す。期限切れまたは追い出し済みのキーは索引からも外す。
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	buf := m.fc.GetBig(nil, []byte(key))
	if m.live(buf) {
		return buf[expiryLen:], true, nil
	}
	m.prune(key)
	return nil, false, nil
}

func (m *MemoryStore) live(buf []byte) bool {
	if len(buf) < expiryLen {
		return false
	}
	expiresAt := int64(binary.BigEndian.Uint64(buf[:expiryLen]))
	return m.now().UnixNano() < expiresAt
}

// prune はロックを取った上で値を読み直し、まだ無効な場合だけ削除する。
// 並行するSetが保存したばかりのキーを索引から外さないため。
func (m *MemoryStore) prune(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, indexed := m.keyGroups[key]
	if !indexed {
		return
	}
	if m.live(m.fc.GetBig(nil, []byte(key))) {
		return
	}
	m.fc.Del([]byte(key))
	delete(m.keyGroups, key)
	if members := m.groups[group]; members != nil {
		delete(members, key)
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
}

// Set は値を保存し、groupの索引に登録する。
func (m *MemoryStore) Set(_ context.Context, group, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryLen+len(value))
	binary.BigEndian.PutUint64(buf[:expiryLen], uint64(m.now().Add(ttl).UnixNano()))
	copy(buf[expiryLen:], value)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fc.SetBig([]byte(key), buf)
	members, ok := m.groups[group]
	if !ok {
		members = make(map[string]struct{})
		m.groups[group] = members
	}
	members[key] = struct{}{}
	m.keyGroups[key] = group
	return nil
}

// DeleteGroups はグループに属する全キーを削除する。
func (m *MemoryStore) DeleteGroups(_ context.Context, groups ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range groups {
		for key := range m.groups[g] {
			m.fc.Del([]byte(key))
			delete(m.keyGroups, key)
		}
		delete(m.groups, g)
	}
	return nil
}

// Flush は全キーを削除する。
func (m *MemoryStore) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fc.Reset()
	m.groups = make(map[string]map[string]struct{})
	m.keyGroups = make(map[string]string)
	return nil
}

var _ Store = (*MemoryStore)(nil)
