package realtime

import (
	"errors"
	"sync"
)

// DefaultBufferSize は購読ごとの既定のバッファ長。
const DefaultBufferSize = 256

// ErrSubscriptionDropped は購読者が配信に追いつけず切断されたことを表す。
var ErrSubscriptionDropped = errors.New("realtime: subscription dropped")

// Filter は購読する変更の絞り込み条件。ProjectIDが空なら全件。
type Filter struct {
	ProjectID string
}

func (f Filter) match(ev ChangeEvent) bool {
	return f.ProjectID == "" || f.ProjectID == ev.ProjectID
}

// Transport は変更通知の購読を提供する。
type Transport interface {
	Subscribe(table Table, filter Filter) (*Subscription, error)
	Unsubscribe(sub *Subscription)
}

// Subscription は1テーブルの変更通知の購読。
// 解除または切断されるとEventsのチャネルが閉じられる。
type Subscription struct {
	table  Table
	filter Filter
	ch     chan ChangeEvent

	mu     sync.Mutex
	err    error
	closed bool
}

// Table は購読しているテーブルを返す。
func (s *Subscription) Table() Table { return s.table }

// Events は変更通知を受け取るチャネルを返す。
func (s *Subscription) Events() <-chan ChangeEvent { return s.ch }

// Err はチャネルが閉じられた理由を返す。通常の解除ではnil。
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

// Hub はプロセス内の変更通知の配信先。
// 配信はブロックせず、バッファが溢れた購読者は切断して再接続しない。
type Hub struct {
	mu     sync.RWMutex
	subs   map[Table]map[*Subscription]struct{}
	buffer int
}

// NewHub は購読ごとにbufferSize件までバッファするHubを生成する。
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:   make(map[Table]map[*Subscription]struct{}),
		buffer: bufferSize,
	}
}

// Subscribe はテーブルの変更通知を購読する。
func (h *Hub) Subscribe(table Table, filter Filter) (*Subscription, error) {
	if !table.Valid() {
		return nil, ErrUnknownTable
	}
	sub := &Subscription{
		table:  table,
		filter: filter,
		ch:     make(chan ChangeEvent, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[table]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[table] = set
	}
	set[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe は購読を解除する。複数回呼んでもよい。
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.remove(sub, nil)
}

func (h *Hub) remove(sub *Subscription, reason error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.table]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.table)
		}
	}
	sub.close(reason)
}

// Publish は変更を該当する購読者へ配信する。
// 切断した購読の数を返す。
func (h *Hub) Publish(ev ChangeEvent) int {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs[ev.Table] {
		if !sub.filter.match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.remove(sub, ErrSubscriptionDropped)
	}
	return len(slow)
}

// Count はテーブルの購読数を返す。
func (h *Hub) Count(table Table) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[table])
}

var _ Transport = (*Hub)(nil)
