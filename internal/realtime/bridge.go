package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/taskboard/internal/cache"
	"github.com/hitoshi/taskboard/internal/model"
)

// Metrics は変更通知の処理状況を記録するインターフェース。
// 切断された購読はHubへ配信した側（PGListener）が記録する。
type Metrics interface {
	RecordRealtimeEvent(table, op string)
	RecordCacheInvalidation(table string)
	RecordDroppedSubscription(table string)
}

// Reconciler は課題の状態変更の確定値を受け取る。
type Reconciler interface {
	Reconcile(id string, status model.AssignmentStatus, updatedAt time.Time) bool
}

// Invalidation はクライアントへ送る無効化の通知。
type Invalidation struct {
	Table Table
	Op    Op
	Keys  []string
}

// Bridge は変更通知を購読し、依存するキャッシュキーを無効化する。
type Bridge struct {
	transport Transport
	cache     *cache.Service
	ledger    Reconciler
	metrics   Metrics
	logger    *slog.Logger
}

// NewBridge はBridgeを生成する。ledgerとmetricsはnilでもよい。
func NewBridge(transport Transport, c *cache.Service, ledger Reconciler, metrics Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		transport: transport,
		cache:     c,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run は全テーブルを購読し、ctxがキャンセルされるまで変更を処理する。
// 購読が切断されてもほかのテーブルの処理は継続する。
func (b *Bridge) Run(ctx context.Context) error {
	subs := make([]*Subscription, 0, len(Tables))
	for _, t := range Tables {
		sub, err := b.transport.Subscribe(t, Filter{})
		if err != nil {
			for _, s := range subs {
				b.transport.Unsubscribe(s)
			}
			return fmt.Errorf("failed to subscribe to %s: %w", t, err)
		}
		subs = append(subs, sub)
	}
	b.logger.Info("change notification bridge started", slog.Int("tables", len(subs)))

	g, ctx := errgroup.WithContext(ctx)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			defer b.transport.Unsubscribe(sub)
			b.consume(ctx, sub)
			return nil
		})
	}
	return g.Wait()
}

func (b *Bridge) consume(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					b.logger.Warn("change subscription dropped",
						slog.String("table", string(sub.Table())),
						slog.String("error", err.Error()),
					)
				}
				return
			}
			b.Handle(ctx, ev)
		}
	}
}

// Handle は1件の変更を処理する。
func (b *Bridge) Handle(ctx context.Context, ev ChangeEvent) {
	if b.metrics != nil {
		b.metrics.RecordRealtimeEvent(string(ev.Table), string(ev.Op))
	}

	if keys := Invalidations(ev); len(keys) > 0 {
		b.cache.Invalidate(ctx, keys...)
		if b.metrics != nil {
			b.metrics.RecordCacheInvalidation(string(ev.Table))
		}
	}

	if ev.Table == TableAssignments && b.ledger != nil && ev.UpdatedAt != nil && ev.RecordID != "" {
		b.ledger.Reconcile(ev.RecordID, model.AssignmentStatus(ev.Status), *ev.UpdatedAt)
	}
}

// Resync は取りこぼした可能性のある変更に備えてキャッシュ全体を破棄する。
func (b *Bridge) Resync(ctx context.Context) {
	b.cache.Flush(ctx)
	b.logger.Info("cache flushed after realtime resync")
}

// Invalidations は変更が影響するキャッシュキーを返す。
func Invalidations(ev ChangeEvent) []cache.Key {
	p, u := ev.ProjectID, ev.UserID
	var keys []cache.Key

	switch ev.Table {
	case TableProjects:
		if p != "" {
			keys = append(keys,
				cache.Project(p),
				cache.TeamMembers(p),
				cache.AllCapabilities(p),
				cache.Assignments(p),
			)
		}
		keys = append(keys, cache.AllProjects())

	case TableProjectMembers:
		if p != "" {
			keys = append(keys,
				cache.TeamMembers(p),
				cache.AllCapabilities(p),
				cache.Assignments(p),
			)
		}
		if u != "" {
			keys = append(keys, cache.Projects(u), cache.Dashboard(u))
		}

	case TableProjectInvitations:
		if ev.Email != "" {
			keys = append(keys, cache.PendingInvitations(model.NormalizeEmail(ev.Email)))
		}
		if p != "" {
			keys = append(keys, cache.ProjectInvitations(p))
		}

	case TableAssignments:
		if p != "" {
			keys = append(keys, cache.Assignments(p))
		}
		keys = append(keys, cache.AllDashboards())

	case TableAssignmentAssignees:
		if p != "" {
			keys = append(keys, cache.Assignments(p))
		}
	}
	return keys
}

// Watch はプロジェクトに関する変更の無効化通知を返す。
// ctxのキャンセル、またはいずれかの購読の切断でチャネルが閉じられる。
//
// プロジェクトとメンバーの変更は、通知を渡す前に権限キーを無効化する。
// 受け取った側が権限を確認し直したとき、Runの処理順によらず最新の値を読む。
// 招待先メールアドレスのキーは招待された本人のものなので、プロジェクト単位の通知には含めない。
func (b *Bridge) Watch(ctx context.Context, projectID string) (<-chan Invalidation, error) {
	ctx, cancel := context.WithCancel(ctx)

	subs := make([]*Subscription, 0, len(Tables))
	for _, t := range Tables {
		sub, err := b.transport.Subscribe(t, Filter{ProjectID: projectID})
		if err != nil {
			cancel()
			for _, s := range subs {
				b.transport.Unsubscribe(s)
			}
			return nil, fmt.Errorf("failed to subscribe to %s: %w", t, err)
		}
		subs = append(subs, sub)
	}

	out := make(chan Invalidation, DefaultBufferSize)
	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.transport.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-sub.Events():
					if !ok {
						cancel()
						return
					}
					if ev.Table == TableProjects || ev.Table == TableProjectMembers {
						b.cache.Invalidate(ctx, cache.AllCapabilities(projectID))
					}
					inv := Invalidation{Table: ev.Table, Op: ev.Op, Keys: keyStrings(projectKeys(Invalidations(ev)))}
					select {
					case out <- inv:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		cancel()
		close(out)
	}()
	return out, nil
}

func keyStrings(keys []cache.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// projectKeys はプロジェクトの参加者に公開できるキーだけを返す。
func projectKeys(keys []cache.Key) []cache.Key {
	return slices.DeleteFunc(keys, func(k cache.Key) bool {
		return k.Kind() == cache.KindPendingInvitations
	})
}
