package utils

import (
	"net/http"
	"strconv"
)

// SetupTextStreamHeaders 设置纯文本流式响应头，禁止中间层缓存与缓冲。
func SetupTextStreamHeaders(w http.ResponseWriter, url string, seed int) {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-store, no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
	if url != "" {
		h.Set("X-Generation-URL", url)
		h.Set("X-Generation-Seed", strconv.Itoa(seed))
	}
}

// WriteChunk 写入一个数据块并立即刷新
func WriteChunk(w http.ResponseWriter, flusher http.Flusher, chunk []byte) error {
	if _, err := w.Write(chunk); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
