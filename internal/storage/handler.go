package storage

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Handler serves blobs written by the local backend under /files/.
type Handler struct {
	store  *Local
	logger *zap.Logger
}

func NewHandler(store *Local, logger *zap.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/files/")
	if key == "" || strings.Contains(key, "..") {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	file, contentType, err := h.store.Open(key)
	if err != nil {
		h.logger.Debug("file lookup failed", zap.String("key", key), zap.Error(err))
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, file)
}
