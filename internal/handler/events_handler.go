package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/taskboard/internal/model"
	"github.com/hitoshi/taskboard/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// クライアントからはpong以外を受け取らない
	wsReadLimit = 512
)

// ProjectAuthorizer は操作者の権限を確認するインターフェース。
type ProjectAuthorizer interface {
	Require(ctx context.Context, userID, projectID string, min model.Capability, operation string) (model.Capability, error)
}

// InvalidationSource はプロジェクトの無効化通知を購読する。
type InvalidationSource interface {
	Watch(ctx context.Context, projectID string) (<-chan realtime.Invalidation, error)
}

// eventMessage はWebSocketで送るメッセージ。
type eventMessage struct {
	Type  string   `json:"type"`
	Table string   `json:"table"`
	Op    string   `json:"op"`
	Keys  []string `json:"keys"`
}

// EventsHandler はプロジェクトの変更をWebSocketで配信するハンドラー。
type EventsHandler struct {
	auth     ProjectAuthorizer
	source   InvalidationSource
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler はEventsHandlerを生成する。
// allowedOriginが空の場合は同一オリジンの接続のみ受け付ける。
func NewEventsHandler(auth ProjectAuthorizer, source InvalidationSource, allowedOrigin string, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		auth:   auth,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigin),
		},
		logger: logger,
	}
}

func checkOrigin(allowedOrigin string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowedOrigin != "" && origin == allowedOrigin {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Stream はプロジェクトの無効化通知をWebSocketで配信する。閲覧者以上が対象。
// 購読が切断された場合は1013で接続を閉じ、クライアントに再接続と再取得を促す。
// プロジェクトまたはメンバーが変わるたびに権限を確認し直し、
// 閲覧できなくなった時点で1008で閉じる。
// GET /api/projects/{projectID}/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	projectID, ok := pathID(w, r, "projectID", model.NewProjectNotFoundError)
	if !ok {
		return
	}
	if _, err := h.auth.Require(r.Context(), userID, projectID, model.CapabilityViewer, "watch project"); err != nil {
		handleServiceError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.source.Watch(ctx, projectID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgraderがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.logger.Info("websocket connected",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
	)

	go h.readLoop(conn, cancel)
	reason := h.writeLoop(ctx, conn, events, func(inv realtime.Invalidation) bool {
		return h.stillAllowed(ctx, userID, projectID, inv)
	})

	h.logger.Info("websocket disconnected",
		slog.String("project_id", projectID),
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}

// readLoop はpongを受け取って読み取り期限を延長する。読み取りエラーで切断とみなす。
func (h *EventsHandler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// stillAllowed は通知を送る前に、接続中のユーザーがまだ閲覧できるかを返す。
// 権限が変わりうるのはプロジェクトとメンバーの変更だけなので、それ以外は確認しない。
func (h *EventsHandler) stillAllowed(ctx context.Context, userID, projectID string, inv realtime.Invalidation) bool {
	switch inv.Table {
	case realtime.TableProjects:
		if inv.Op == realtime.OpDelete {
			return false
		}
	case realtime.TableProjectMembers:
	default:
		return true
	}
	_, err := h.auth.Require(ctx, userID, projectID, model.CapabilityViewer, "watch project")
	return err == nil
}

// writeLoop は通知とpingを送る。allowedがfalseを返した通知は送らずに接続を閉じる。終了理由を返す。
func (h *EventsHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan realtime.Invalidation, allowed func(realtime.Invalidation) bool) string {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "client closed"
		case inv, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return "client closed"
				}
				msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription dropped")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return "subscription dropped"
			}
			if !allowed(inv) {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "access revoked")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
				return "access revoked"
			}
			data, err := sonic.Marshal(eventMessage{Type: "invalidate", Table: string(inv.Table), Op: string(inv.Op), Keys: inv.Keys})
			if err != nil {
				h.logger.Error("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return "write failed"
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return "ping failed"
			}
		}
	}
}
