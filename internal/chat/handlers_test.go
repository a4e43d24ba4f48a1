package chat

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/Alexander-D-Karpov/huddle/internal/auth/interceptor"
	"github.com/Alexander-D-Karpov/huddle/internal/messages"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) *mux.Router {
	r := mux.NewRouter()
	NewHandler(f.svc, f.svc.limits).Register(r)
	return r
}

func do(t *testing.T, r http.Handler, user uuid.UUID, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req = req.WithContext(interceptor.ContextWithUser(req.Context(), user, ""))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target string, body any) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHTTPSendAndGet(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	req := jsonRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", map[string]string{"content": "hello"})
	req.Header.Set(ConnectionHeader, "conn-9")
	rec := do(t, r, f.alice, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	id, ok := raw["id"].(string)
	require.True(t, ok, "message id is rendered as a string")
	assert.Equal(t, "hello", raw["content"])

	evs := f.publisher.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "conn-9", evs[0].Origin)

	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodGet, "/v1/messages/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got messages.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, id, strconv.FormatInt(got.ID, 10))
}

func TestHTTPSendReply(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	parent := f.send(t, f.alice, "root")

	rec := do(t, r, f.bob, jsonRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", map[string]string{
		"content":         "reply",
		"parentMessageId": strconv.FormatInt(parent.ID, 10),
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, r, f.bob, jsonRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", map[string]string{
		"content":         "reply",
		"parentMessageId": "12345",
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_thread_parent", body["error"])
}

func TestHTTPSendMultipart(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("content", "see attached"))
	part, err := mw.CreateFormFile("files", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("some notes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, r, f.alice, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got messages.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "notes.txt", got.Attachments[0].FileName)
	assert.Equal(t, "text/plain", got.Attachments[0].FileType)
	assert.Equal(t, int64(10), got.Attachments[0].Size)
}

func TestHTTPSendRejectsOversizedBody(t *testing.T) {
	f := newFixture(t)
	r := mux.NewRouter()
	NewHandler(f.svc, Limits{MaxFileSize: 1024, MaxFilesPerSend: 1}).Register(r)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "huge.txt")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 2<<20))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, r, f.alice, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "payload_too_large", body["error"])
	assert.Zero(t, f.store.count())
	assert.Empty(t, f.publisher.all())

	rec = do(t, r, f.alice, jsonRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages",
		map[string]string{"content": string(bytes.Repeat([]byte("y"), 2<<20))}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHTTPUploadFailureStatus(t *testing.T) {
	f := newFixture(t)
	f.uploader.failAt = 1
	r := newTestRouter(f)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("files", "a.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/channels/"+f.channel.String()+"/messages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, r, f.alice, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, f.store.count())
}

func TestHTTPListIncludesDeletedByDefault(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)

	f.send(t, f.alice, "one")
	gone := f.send(t, f.alice, "two")
	_, err := f.svc.DeleteMessage(as(f.alice), gone.ID)
	require.NoError(t, err)

	path := "/v1/channels/" + f.channel.String() + "/messages"

	rec := do(t, r, f.bob, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page messages.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 2)

	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodGet, path+"?includeDeleted=false&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page = messages.Page{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Messages, 1)

	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodGet, path+"?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, f.outsider, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHTTPEditDeleteAndReactions(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(f)
	msg := f.send(t, f.alice, "hi")
	base := "/v1/messages/" + strconv.FormatInt(msg.ID, 10)

	rec := do(t, r, f.alice, jsonRequest(http.MethodPatch, base, map[string]string{"content": "hello"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, f.alice, jsonRequest(http.MethodPatch, base, map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	emoji := url.PathEscape("👍")
	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodPut, base+"/reactions/"+emoji, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var delta map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &delta))
	assert.Equal(t, "👍", delta["emoji"])
	assert.Equal(t, float64(1), delta["count"])

	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodDelete, base+"/reactions/"+emoji, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, f.bob, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, r, f.alice, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, f.alice, httptest.NewRequest(http.MethodDelete, base, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, f.alice, httptest.NewRequest(http.MethodGet, "/v1/messages/not-a-number", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
