package generate

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	// wsReadLimit caps any single client frame; oversized prompts below it
	// are drained and answered with an error frame.
	wsReadLimit = 1 << 20
)

// wsMessage is every frame the server sends on /generate/text/ws.
type wsMessage struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// splitComplete cuts a trailing incomplete UTF-8 sequence off b so that JSON
// text frames never carry half a rune.
func splitComplete(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if utf8.FullRune(b[i:]) {
			return b, nil
		}
		return b[:i], b[i:]
	}
	return b, nil
}

func writeWS(conn *websocket.Conn, msg wsMessage) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

var errPromptTooLarge = errors.New("websocket prompt message too large")

// readPrompt reads the first message, keeping at most maxRequestBytes of it.
func readPrompt(conn *websocket.Conn) ([]byte, error) {
	_, r, err := conn.NextReader()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, maxRequestBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBytes {
		_, _ = io.Copy(io.Discard, r)
		return nil, errPromptTooLarge
	}
	return data, nil
}

// handleTextWebSocket 通过WebSocket逐块推送文本生成结果
func (h *Handler) handleTextWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[generate] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	data, err := readPrompt(conn)
	if errors.Is(err, errPromptTooLarge) {
		_ = writeWS(conn, wsMessage{Type: "error", Error: msgTooLarge})
		return
	}
	if err != nil {
		log.Printf("[generate] websocket read failed: %v", err)
		return
	}

	req, msg := parseRequest(data)
	if msg != "" {
		_ = writeWS(conn, wsMessage{Type: "error", Error: msg})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端关闭连接时取消上游读取
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	gen, sr, err := h.svc.StreamText(ctx, req.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		_, text := errorStatus(err)
		log.Printf("[generate] websocket stream failed: %v", err)
		_ = writeWS(conn, wsMessage{Type: "error", Error: text})
		return
	}
	defer sr.Close()

	if err := writeWS(conn, wsMessage{Type: "start", URL: gen.URL}); err != nil {
		return
	}

	var pending []byte
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			_, text := errorStatus(err)
			_ = writeWS(conn, wsMessage{Type: "error", Error: text})
			return
		}
		var complete []byte
		complete, pending = splitComplete(append(pending, chunk...))
		if len(complete) == 0 {
			continue
		}
		if err := writeWS(conn, wsMessage{Type: "delta", Content: string(complete)}); err != nil {
			return
		}
	}

	if len(pending) > 0 {
		if err := writeWS(conn, wsMessage{Type: "delta", Content: string(pending)}); err != nil {
			return
		}
	}
	if err := writeWS(conn, wsMessage{Type: "end"}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
}
