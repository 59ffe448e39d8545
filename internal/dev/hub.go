package dev

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReloadPath is where browsers open the live-reload socket.
const ReloadPath = "/__bootz/reload"

const writeWait = 5 * time.Second

// MessageType is the kind of live-reload message.
type MessageType string

const (
	MessageReload MessageType = "reload"
	MessageError  MessageType = "error"
	MessageClear  MessageType = "clear"
)

// Message is sent to browsers as JSON.
type Message struct {
	Type   MessageType `json:"type"`
	Target string      `json:"target,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ReloadHub tracks connected browsers and broadcasts reload and error
// overlay messages to them. Each target's unresolved error is replayed to
// browsers that connect while it is failing.
type ReloadHub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	errors  map[string]Message
	closed  bool
}

// hubClient serializes writes to one connection.
type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewReloadHub creates an empty hub.
func NewReloadHub(logger *slog.Logger) *ReloadHub {
	return &ReloadHub{
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		errors:  make(map[string]Message),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and holds the socket until the browser
// goes away.
func (h *ReloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("reload socket upgrade failed", "error", err)
		return
	}
	c := &hubClient{conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	pending := h.failingLocked()
	h.mu.Unlock()

	for _, msg := range pending {
		if data, err := json.Marshal(msg); err == nil {
			_ = c.send(data)
		}
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

// NotifyReload tells every browser to reload the page.
func (h *ReloadHub) NotifyReload() {
	h.broadcast(Message{Type: MessageReload})
}

// NotifyError shows the error overlay with the diagnostics of target.
func (h *ReloadHub) NotifyError(target, diagnostics string) {
	msg := Message{Type: MessageError, Target: target, Error: diagnostics}
	h.mu.Lock()
	h.errors[target] = msg
	h.mu.Unlock()
	h.broadcast(msg)
}

// ClearError resolves target's error. The overlay is hidden once no
// target is failing; otherwise it switches to a target still failing.
func (h *ReloadHub) ClearError(target string) {
	h.mu.Lock()
	_, showing := h.errors[target]
	delete(h.errors, target)
	remaining := h.failingLocked()
	h.mu.Unlock()

	if !showing {
		return
	}
	if len(remaining) == 0 {
		h.broadcast(Message{Type: MessageClear})
		return
	}
	for _, msg := range remaining {
		h.broadcast(msg)
	}
}

// failingLocked returns the unresolved errors ordered by target.
func (h *ReloadHub) failingLocked() []Message {
	msgs := make([]Message, 0, len(h.errors))
	for _, msg := range h.errors {
		msgs = append(msgs, msg)
	}
	slices.SortFunc(msgs, func(a, b Message) int { return strings.Compare(a.Target, b.Target) })
	return msgs
}

// ClientCount returns the number of connected browsers.
func (h *ReloadHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every browser. Later connections are refused.
func (h *ReloadHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

func (h *ReloadHub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.send(data); err != nil {
			h.drop(c)
		}
	}
	h.logger.Debug("live reload message sent", "type", msg.Type, "clients", len(clients))
}

func (h *ReloadHub) drop(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// ClientScript is injected into HTML pages served in development. It keeps
// a socket to ReloadPath open and reacts to hub messages.
const ClientScript = `<script>
(function() {
    'use strict';

    var delay = 1000;
    var maxDelay = 30000;

    function connect() {
        var scheme = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(scheme + '//' + location.host + '` + ReloadPath + `');

        ws.onopen = function() {
            delay = 1000;
        };

        ws.onmessage = function(e) {
            var msg;
            try { msg = JSON.parse(e.data); } catch (err) { return; }

            if (msg.type === 'reload') {
                location.reload();
            } else if (msg.type === 'error') {
                console.error('[bootz] Failed to compile ' + msg.target, msg.error);
                showOverlay(msg.target, msg.error);
            } else if (msg.type === 'clear') {
                hideOverlay();
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                delay = Math.min(delay * 2, maxDelay);
                connect();
            }, delay);
        };

        ws.onerror = function() { ws.close(); };
    }

    function showOverlay(target, text) {
        hideOverlay();
        var overlay = document.createElement('div');
        overlay.id = 'bootz-error-overlay';
        overlay.style.cssText = 'position:fixed;inset:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:2147483647;';

        var title = document.createElement('h2');
        title.style.cssText = 'color:#ff5555;margin:0 0 20px;';
        title.textContent = 'Failed to compile ' + target;

        var pre = document.createElement('pre');
        pre.style.cssText = 'white-space:pre-wrap;background:#1a1a1a;padding:20px;border-radius:8px;';
        pre.textContent = text;

        overlay.appendChild(title);
        overlay.appendChild(pre);
        document.body.appendChild(overlay);
    }

    function hideOverlay() {
        var overlay = document.getElementById('bootz-error-overlay');
        if (overlay) { overlay.remove(); }
    }

    if (document.readyState === 'loading') {
        document.addEventListener('DOMContentLoaded', connect);
    } else {
        connect();
    }
})();
</script>
`
