package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"guestgallery/internal/app"
	"guestgallery/pkg/store"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) PublicURL(key string) string {
	return "http://objects.local/images/" + key
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeObjectStore) {
	t.Helper()
	objects := &fakeObjectStore{}
	appCore, err := app.New(app.Config{Store: store.NewMemoryStore(), Objects: objects})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: appCore}).Router())
	t.Cleanup(srv.Close)
	return srv, objects
}

func doJSON(t *testing.T, method, url, guestID string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if guestID != "" {
		req.Header.Set("X-Guest-ID", guestID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// List endpoints return arrays; callers decode those themselves.
			decoded = nil
		}
	}
	return resp, decoded
}

func newGuest(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/auth/guest", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create guest status = %d, want 201", resp.StatusCode)
	}
	token, _ := body["guest_id"].(string)
	if token == "" {
		t.Fatalf("missing guest_id in %v", body)
	}
	return token
}

func listImages(t *testing.T, baseURL, guestID string) []map[string]any {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/images", nil)
	req.Header.Set("X-Guest-ID", guestID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list images status = %d, want 200", resp.StatusCode)
	}
	var images []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		t.Fatalf("decode image list: %v", err)
	}
	return images
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}

func TestGuestHeaderRequired(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, route := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/auth/verify"},
		{http.MethodGet, "/api/images"},
		{http.MethodPost, "/api/images/reorder"},
		{http.MethodPost, "/api/upload"},
	} {
		resp, body := doJSON(t, route.method, srv.URL+route.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s status = %d, want 401", route.method, route.path, resp.StatusCode)
		}
		if body["error"] != "Guest ID required" {
			t.Fatalf("%s %s body = %v", route.method, route.path, body)
		}
	}
}

func TestUnknownGuestIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/verify", "not-a-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("verify status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "User not found" {
		t.Fatalf("verify body = %v", body)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/images", nil)
	req.Header.Set("X-Guest-ID", "not-a-token")
	listResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("list images: %v", err)
	}
	listResp.Body.Close()
	if listResp.StatusCode != http.StatusNotFound {
		t.Fatalf("list status = %d, want 404", listResp.StatusCode)
	}
}

func TestVerifyReturnsIdentity(t *testing.T) {
	srv, _ := newTestServer(t)
	token := newGuest(t, srv.URL)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/auth/verify", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status = %d, want 200", resp.StatusCode)
	}
	if body["guest_id"] != token {
		t.Fatalf("guest_id = %v, want %q", body["guest_id"], token)
	}
	if body["user_id"] == "" || body["user_id"] == nil {
		t.Fatalf("missing user_id in %v", body)
	}
	if body["created_at"] == nil {
		t.Fatalf("missing created_at in %v", body)
	}
}

func TestImageCollectionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	guestA := newGuest(t, srv.URL)
	guestB := newGuest(t, srv.URL)

	// Empty collection is a valid result.
	if images := listImages(t, srv.URL, guestA); len(images) != 0 {
		t.Fatalf("expected empty collection, got %d", len(images))
	}

	// image_url is mandatory.
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/images", guestA, map[string]any{"title": "no url"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without url status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "image_url is required" {
		t.Fatalf("create without url body = %v", body)
	}

	resp, img0 := doJSON(t, http.MethodPost, srv.URL+"/api/images", guestA, map[string]any{"image_url": "http://x/1.png"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	if img0["title"] != "Untitled" {
		t.Fatalf("default title = %v, want Untitled", img0["title"])
	}
	if img0["display_order"] != float64(0) {
		t.Fatalf("first display_order = %v, want 0", img0["display_order"])
	}

	resp, img1 := doJSON(t, http.MethodPost, srv.URL+"/api/images", guestA, map[string]any{"image_url": "http://x/2.png", "title": "second"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	if img1["display_order"] != float64(1) {
		t.Fatalf("second display_order = %v, want 1", img1["display_order"])
	}

	img0ID, _ := img0["id"].(string)
	img1ID, _ := img1["id"].(string)

	// Guest B cannot see or touch A's images.
	if images := listImages(t, srv.URL, guestB); len(images) != 0 {
		t.Fatalf("guest B sees %d foreign images", len(images))
	}
	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/images/"+img0ID, guestB, map[string]any{"title": "stolen"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign update status = %d, want 404", resp.StatusCode)
	}
	if body["error"] != "Image not found or access denied" {
		t.Fatalf("foreign update body = %v", body)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/images/"+img0ID, guestB, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign delete status = %d, want 404", resp.StatusCode)
	}

	// Partial update keeps absent fields.
	resp, updated := doJSON(t, http.MethodPut, srv.URL+"/api/images/"+img0ID, guestA, map[string]any{"description": "a fir"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	if updated["description"] != "a fir" || updated["title"] != "Untitled" {
		t.Fatalf("partial update result = %v", updated)
	}

	// Reorder img0 to the end; img1 keeps its order.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/images/reorder", guestA, map[string]any{
		"order": []map[string]any{{"id": img0ID, "order": 5}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reorder status = %d, want 200", resp.StatusCode)
	}
	if body["message"] != "Reordered" {
		t.Fatalf("reorder body = %v", body)
	}
	images := listImages(t, srv.URL, guestA)
	if len(images) != 2 {
		t.Fatalf("got %d images, want 2", len(images))
	}
	if images[0]["id"] != img1ID || images[0]["display_order"] != float64(1) {
		t.Fatalf("first listed = %v", images[0])
	}
	if images[1]["id"] != img0ID || images[1]["display_order"] != float64(5) {
		t.Fatalf("second listed = %v", images[1])
	}

	// Delete and delete-again.
	resp, body = doJSON(t, http.MethodDelete, srv.URL+"/api/images/"+img0ID, guestA, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}
	if body["message"] != "Image deleted" {
		t.Fatalf("delete body = %v", body)
	}
	if images := listImages(t, srv.URL, guestA); len(images) != 1 || images[0]["id"] != img1ID {
		t.Fatalf("collection after delete = %v", images)
	}
	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/images/"+img0ID, guestA, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", resp.StatusCode)
	}
}

func uploadFile(t *testing.T, url, guestID, filename string, payload []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url+"/api/upload", &buf)
	if err != nil {
		t.Fatalf("new upload request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if guestID != "" {
		req.Header.Set("X-Guest-ID", guestID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestUpload(t *testing.T) {
	srv, objects := newTestServer(t)
	token := newGuest(t, srv.URL)

	payload := []byte("fake image bytes")
	resp := uploadFile(t, srv.URL, token, "tree.png", payload)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	key := body["filename"]
	if key == "" || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected filename %q", key)
	}
	if want := fmt.Sprintf("http://objects.local/images/%s", key); body["url"] != want {
		t.Fatalf("url = %q, want %q", body["url"], want)
	}
	if !bytes.Equal(objects.objects[key], payload) {
		t.Fatalf("stored payload mismatch for %q", key)
	}
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	srv, _ := newTestServer(t)
	token := newGuest(t, srv.URL)

	resp := uploadFile(t, srv.URL, token, "malware.exe", []byte("nope"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	srv, _ := newTestServer(t)
	token := newGuest(t, srv.URL)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "no file here"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Guest-ID", token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("upload status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	token := newGuest(t, srv.URL)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/auth/guest", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /api/auth/guest status = %d, want 405", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/images/reorder", token, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/images/reorder status = %d, want 405", resp.StatusCode)
	}
}
