package simulator

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, h http.Handler, method, target string) map[string]any {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func upload(t *testing.T, h http.Handler, name string, content []byte) map[string]any {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload_file", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestUploadDetectsType(t *testing.T) {
	svc := New()
	h := svc.Handler()

	img := upload(t, h, "site.PNG", []byte("png"))
	assert.Equal(t, true, img["success"])
	assert.Equal(t, "image", img["type"])
	assert.Equal(t, "/uploads/site.PNG", img["url"])

	vid := upload(t, h, "walk.mp4", []byte("mp4"))
	assert.Equal(t, "video", vid["type"])
	assert.Nil(t, vid["url"])

	bad := upload(t, h, "notes.txt", []byte("text"))
	assert.Equal(t, false, bad["success"])
	assert.NotEmpty(t, bad["error"])

	state := postJSON(t, h, http.MethodGet, "/get_initial_state")
	assert.Equal(t, "video", state["current_source"], "a rejected upload leaves the source alone")
}

func TestCaptureNeedsFrame(t *testing.T) {
	svc := New()
	h := svc.Handler()

	out := postJSON(t, h, http.MethodPost, "/capture_frame")
	assert.Equal(t, false, out["success"])

	postJSON(t, h, http.MethodPost, "/start_camera")
	out = postJSON(t, h, http.MethodPost, "/capture_frame")
	assert.Equal(t, true, out["success"])
	assert.Len(t, svc.Captures(), 1)
}

func TestDetectionStatusHiddenWhileDisabled(t *testing.T) {
	svc := New()
	h := svc.Handler()
	svc.SetStatus(Status{Person: true, Helmet: true})
	postJSON(t, h, http.MethodPost, "/start_camera")

	out := postJSON(t, h, http.MethodGet, "/get_detection_status")
	assert.Equal(t, false, out["persona"])

	toggled := postJSON(t, h, http.MethodPost, "/toggle_detection")
	assert.Equal(t, true, toggled["active"])
	svc.SetStatus(Status{Person: true, Helmet: true})
	out = postJSON(t, h, http.MethodGet, "/get_detection_status")
	assert.Equal(t, true, out["persona"])
	assert.Equal(t, true, out["casco"])
	assert.Equal(t, false, out["guantes"])
}

func TestResetClearsEverything(t *testing.T) {
	svc := New()
	h := svc.Handler()
	postJSON(t, h, http.MethodPost, "/start_camera")
	postJSON(t, h, http.MethodPost, "/toggle_detection")
	postJSON(t, h, http.MethodPost, "/toggle_recognition")

	out := postJSON(t, h, http.MethodPost, "/reset_system")
	assert.Equal(t, true, out["success"])

	state := postJSON(t, h, http.MethodGet, "/get_initial_state")
	assert.Equal(t, false, state["detection_active"])
	assert.Equal(t, false, state["recognition_active"])
	assert.Nil(t, state["current_source"])
}

func TestFailNextIsOneShot(t *testing.T) {
	svc := New()
	h := svc.Handler()
	svc.FailNext("/start_camera", http.StatusInternalServerError, "boom")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/start_camera", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	out := postJSON(t, h, http.MethodPost, "/start_camera")
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 2, svc.Requests("/start_camera"))
}

func TestRandomizeOnlyWhileDetecting(t *testing.T) {
	svc := New()
	h := svc.Handler()
	rng := rand.New(rand.NewSource(7))
	svc.Randomize(rng)
	out := postJSON(t, h, http.MethodGet, "/get_detection_status")
	assert.Equal(t, false, out["persona"])
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "endpoint not found")
}
