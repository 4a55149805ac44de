package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// DefaultChannel はトリガーが通知を送るチャネル名。
const DefaultChannel = "taskboard_changes"

// pingInterval は接続の生存確認の間隔。
const pingInterval = 90 * time.Second

// Publisher は受信した変更の配信先。
type Publisher interface {
	Publish(ev ChangeEvent) int
}

// ListenerConfig はPGListenerの設定。
type ListenerConfig struct {
	DSN                  string
	Channel              string
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	// OnResync は再接続後に呼ばれる。切断中の通知は失われている可能性がある。
	OnResync func(ctx context.Context)
}

// PGListener はPostgreSQLの LISTEN で変更通知を受信し、Publisherへ渡す。
// 再接続は pq.Listener が行う。
type PGListener struct {
	cfg       ListenerConfig
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
}

// NewPGListener はPGListenerを生成する。metricsはnilでもよい。
func NewPGListener(cfg ListenerConfig, publisher Publisher, metrics Metrics, logger *slog.Logger) *PGListener {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.MinReconnectInterval <= 0 {
		cfg.MinReconnectInterval = 10 * time.Second
	}
	if cfg.MaxReconnectInterval < cfg.MinReconnectInterval {
		cfg.MaxReconnectInterval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGListener{cfg: cfg, publisher: publisher, metrics: metrics, logger: logger}
}

// Run はctxがキャンセルされるまで通知を受信する。
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.cfg.DSN, l.cfg.MinReconnectInterval, l.cfg.MaxReconnectInterval, l.logEvent)
	defer listener.Close()

	if err := listener.Listen(l.cfg.Channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.cfg.Channel, err)
	}
	l.logger.Info("realtime listener started", slog.String("channel", l.cfg.Channel))

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("realtime listener stopped")
			return nil

		case n := <-listener.Notify:
			if n == nil {
				// 再接続後にnilが届く
				l.resync(ctx)
				continue
			}
			l.Dispatch(n.Extra)

		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("realtime listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

// Dispatch はペイロードを変換して配信する。変換できない通知は破棄する。
func (l *PGListener) Dispatch(payload string) {
	ev, err := DecodeEvent([]byte(payload))
	if err != nil {
		l.logger.Warn("discarding change notification",
			slog.String("error", err.Error()),
			slog.Int("payload_bytes", len(payload)),
		)
		return
	}
	if dropped := l.publisher.Publish(ev); dropped > 0 && l.metrics != nil {
		for i := 0; i < dropped; i++ {
			l.metrics.RecordDroppedSubscription(string(ev.Table))
		}
	}
}

func (l *PGListener) resync(ctx context.Context) {
	l.logger.Warn("realtime listener reconnected, resynchronizing")
	if l.cfg.OnResync != nil {
		l.cfg.OnResync(ctx)
	}
}

func (l *PGListener) logEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("realtime listener connected")
	case pq.ListenerEventDisconnected:
		attrs := []any{}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		l.logger.Warn("realtime listener disconnected", attrs...)
	case pq.ListenerEventReconnected:
		l.logger.Info("realtime listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		attrs := []any{}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		l.logger.Warn("realtime listener connection attempt failed", attrs...)
	}
}
