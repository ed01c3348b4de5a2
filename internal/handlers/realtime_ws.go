package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/testerbesterkali/marketer/internal/progress"
)

func isLocalhostRemoteAddr(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// internalWSAllowed returns true if the request may open a progress websocket.
// Loopback is always allowed; other clients must send X-Internal-WS-Secret.
func (h *Handler) internalWSAllowed(r *http.Request) bool {
	if isLocalhostRemoteAddr(r.RemoteAddr) {
		return true
	}
	sec := strings.TrimSpace(h.wsSecret)
	if sec == "" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret")) == sec
}

func (h *Handler) internalWSDebug(r *http.Request) map[string]any {
	sec := strings.TrimSpace(h.wsSecret)
	hdr := strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret"))
	return map[string]any{
		"remote":      r.RemoteAddr,
		"loopback":    isLocalhostRemoteAddr(r.RemoteAddr),
		"secSet":      sec != "",
		"hasHeader":   hdr != "",
		"headerMatch": sec != "" && hdr == sec,
	}
}

// ProgressPing is a non-WS endpoint used to debug websocket auth from a proxy.
// URL: /api/progress/ping
func (h *Handler) ProgressPing(w http.ResponseWriter, r *http.Request) {
	resp := h.internalWSDebug(r)
	resp["ok"] = h.internalWSAllowed(r)
	if resp["ok"] != true {
		writeJSON(w, http.StatusForbidden, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Frame is one websocket message. Hello frames confirm the subscription is live.
type Frame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Step    string `json:"step,omitempty"`
	PostID  string `json:"post_id,omitempty"`
	Status  string `json:"status,omitempty"`
	At      string `json:"at"`
}

const (
	FrameHello    = "hello"
	FrameProgress = "progress"
	FramePost     = "post"
)

// channelFor resolves the query to a channel name. kind is analysis, topics or posts.
func channelFor(kind, workspaceID string) (string, string, bool) {
	if kind == "posts" {
		return progress.PostsChannel(workspaceID), FramePost, true
	}
	k, err := progress.ParseKind(kind)
	if err != nil {
		return "", "", false
	}
	return progress.ChannelName(k, workspaceID), FrameProgress, true
}

// ProgressWebSocket streams a workspace's progress channel.
//
// URL: /api/progress/ws?workspace_id=...&kind=analysis|topics|posts
// Auth: X-Internal-WS-Secret (or localhost-only if INTERNAL_WS_SECRET is unset)
//
// The subscription is opened before the upgrade, so events published after the hello frame
// are delivered. Earlier events are gone.
func (h *Handler) ProgressWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.internalWSAllowed(r) {
		d := h.internalWSDebug(r)
		h.log.Warn("ws_forbidden", "remote", d["remote"], "loopback", d["loopback"], "secSet", d["secSet"], "hasHeader", d["hasHeader"])
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		http.Error(w, "missing_workspace_id", http.StatusBadRequest)
		return
	}
	channel, frameType, ok := channelFor(strings.TrimSpace(r.URL.Query().Get("kind")), workspaceID)
	if !ok {
		http.Error(w, "invalid_kind", http.StatusBadRequest)
		return
	}
	if h.bus == nil {
		http.Error(w, "progress unavailable", http.StatusServiceUnavailable)
		return
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	sub, err := h.bus.Subscribe(subCtx, channel)
	if err != nil {
		h.log.Error("ws_subscribe_failed", "channel", channel, "error", err)
		http.Error(w, "subscribe_failed", http.StatusBadGateway)
		return
	}
	defer sub.Close()

	// Origin is not checked; auth is handled by internalWSAllowed.
	wsServer := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error { return nil },
		Handler: func(c *websocket.Conn) {
			h.log.Info("ws_connect", "channel", channel, "remote", r.RemoteAddr, "ua", truncate(r.UserAgent(), 120))
			defer h.log.Info("ws_disconnect", "channel", channel, "remote", r.RemoteAddr)

			send := func(f Frame) error {
				f.Channel = channel
				f.At = time.Now().UTC().Format(time.RFC3339)
				b, err := json.Marshal(f)
				if err != nil {
					return err
				}
				return websocket.Message.Send(c, string(b))
			}
			if err := send(Frame{Type: FrameHello}); err != nil {
				return
			}

			// Read loop only detects disconnects.
			go func() {
				for {
					var ignored string
					if err := websocket.Message.Receive(c, &ignored); err != nil {
						cancel()
						return
					}
				}
			}()

			for {
				select {
				case <-subCtx.Done():
					return
				case ev, ok := <-sub.Events():
					if !ok {
						return
					}
					if err := send(Frame{Type: frameType, Step: ev.Step, PostID: ev.PostID, Status: ev.Status}); err != nil {
						return
					}
				}
			}
		},
	}
	wsServer.ServeHTTP(w, r)
}
