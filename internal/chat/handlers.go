package chat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/Alexander-D-Karpov/huddle/internal/common/errors"
	"github.com/Alexander-D-Karpov/huddle/internal/common/logging"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// ConnectionHeader names the live connection a request was issued from.
const ConnectionHeader = "X-Connection-ID"

const multipartMemory = 8 << 20

type Handler struct {
	service *Service
	// maxBody bounds a whole send request, files included.
	maxBody int64
}

func NewHandler(service *Service, limits Limits) *Handler {
	files := limits.MaxFilesPerSend
	if files <= 0 {
		files = 1
	}
	return &Handler{
		service: service,
		maxBody: int64(files)*limits.MaxFileSize + 1<<20,
	}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/channels/{channelID}/messages", h.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/channels/{channelID}/messages", h.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{messageID}", h.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages/{messageID}", h.editMessage).Methods(http.MethodPatch)
	r.HandleFunc("/v1/messages/{messageID}", h.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/v1/messages/{messageID}/reactions/{emoji}", h.addReaction).Methods(http.MethodPut)
	r.HandleFunc("/v1/messages/{messageID}/reactions/{emoji}", h.removeReaction).Methods(http.MethodDelete)
}

type sendRequest struct {
	Content         string `json:"content"`
	ParentMessageID string `json:"parentMessageId"`
}

type editRequest struct {
	Content *string `json:"content"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(mux.Vars(r)["channelID"])
	if err != nil {
		errors.WriteHTTP(w, errors.BadRequest("invalid channel id"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	in := SendInput{ChannelID: channelID}
	var parent string

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			errors.WriteHTTP(w, bodyError(err, "invalid multipart body"))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		in.Content = r.FormValue("content")
		parent = r.FormValue("parentMessageId")

		for _, fh := range r.MultipartForm.File["files"] {
			f, err := fh.Open()
			if err != nil {
				errors.WriteHTTP(w, errors.BadRequest("unreadable file part"))
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				errors.WriteHTTP(w, errors.BadRequest("unreadable file part"))
				return
			}
			in.Files = append(in.Files, File{
				Name:        fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	} else {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errors.WriteHTTP(w, bodyError(err, "invalid request body"))
			return
		}
		in.Content = req.Content
		parent = req.ParentMessageID
	}

	if parent != "" {
		id, err := parseMessageID(parent)
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}
		in.ParentID = &id
	}

	msg, err := h.service.SendMessage(requestContext(r), in)
	if err != nil {
		writeError(r, w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	channelID, err := uuid.Parse(mux.Vars(r)["channelID"])
	if err != nil {
		errors.WriteHTTP(w, errors.BadRequest("invalid channel id"))
		return
	}

	q := r.URL.Query()
	in := ListInput{
		ChannelID:      channelID,
		IncludeDeleted: true,
		Cursor:         q.Get("cursor"),
		Sort:           q.Get("sort"),
	}

	if v := q.Get("limit"); v != "" {
		in.Limit, err = strconv.Atoi(v)
		if err != nil {
			errors.WriteHTTP(w, errors.BadRequest("invalid limit"))
			return
		}
	}
	if v := q.Get("includeDeleted"); v != "" {
		in.IncludeDeleted, err = strconv.ParseBool(v)
		if err != nil {
			errors.WriteHTTP(w, errors.BadRequest("invalid includeDeleted"))
			return
		}
	}
	if v := q.Get("parentMessageId"); v != "" {
		id, err := parseMessageID(v)
		if err != nil {
			errors.WriteHTTP(w, err)
			return
		}
		in.ParentID = &id
	}

	page, err := h.service.ListMessages(requestContext(r), in)
	if err != nil {
		writeError(r, w, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseMessageID(mux.Vars(r)["messageID"])
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	msg, err := h.service.GetMessage(requestContext(r), id)
	if err != nil {
		writeError(r, w, "get message", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) editMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseMessageID(mux.Vars(r)["messageID"])
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	var req editRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil || req.Content == nil {
		errors.WriteHTTP(w, errors.BadRequest("content is required"))
		return
	}

	msg, err := h.service.EditMessage(requestContext(r), id, *req.Content)
	if err != nil {
		writeError(r, w, "edit message", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, err := parseMessageID(mux.Vars(r)["messageID"])
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	if _, err := h.service.DeleteMessage(requestContext(r), id); err != nil {
		writeError(r, w, "delete message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseMessageID(vars["messageID"])
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	delta, err := h.service.AddReaction(requestContext(r), id, vars["emoji"])
	if err != nil {
		writeError(r, w, "add reaction", err)
		return
	}

	writeJSON(w, http.StatusOK, delta)
}

func (h *Handler) removeReaction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := parseMessageID(vars["messageID"])
	if err != nil {
		errors.WriteHTTP(w, err)
		return
	}

	delta, err := h.service.RemoveReaction(requestContext(r), id, vars["emoji"])
	if err != nil {
		writeError(r, w, "remove reaction", err)
		return
	}

	writeJSON(w, http.StatusOK, delta)
}

func requestContext(r *http.Request) context.Context {
	return WithOrigin(r.Context(), strings.TrimSpace(r.Header.Get(ConnectionHeader)))
}

// bodyError reports an oversized body as 413 and anything else as a bad
// request with msg.
func bodyError(err error, msg string) error {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return errors.BadRequest(msg)
}

func parseMessageID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.BadRequest("invalid message id")
	}
	return id, nil
}

func writeError(r *http.Request, w http.ResponseWriter, op string, err error) {
	if errors.HTTPStatus(err) >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error(op+" failed", zap.Error(err))
	}
	errors.WriteHTTP(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
