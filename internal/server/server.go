package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"guestgallery/internal/app"
	"guestgallery/internal/util"
	"guestgallery/pkg/domain"
)

const guestHeader = "X-Guest-ID"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// Server exposes the HTTP endpoints of the gallery service.
type Server struct {
	app               *app.App
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:               cfg.App,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("gallery", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	// guest identity
	s.mux.HandleFunc("/api/auth/guest", s.handleCreateGuest)
	s.mux.Handle("/api/auth/verify", s.withGuest(s.handleVerify))

	// image collection
	s.mux.Handle("/api/images", s.withGuest(s.handleImages))
	s.mux.Handle("/api/images/", s.withGuest(s.handleImageByID))
	s.mux.Handle("/api/images/reorder", s.withGuest(s.handleReorder))
	s.mux.Handle("/api/upload", s.withGuest(s.handleUpload))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type guestHandler func(http.ResponseWriter, *http.Request, string)

// withGuest requires the X-Guest-ID header and passes its value on.
// Possession of the token is the entire credential; resolution to a user
// happens inside each operation and is never cached.
func (s *Server) withGuest(next guestHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guestID := strings.TrimSpace(r.Header.Get(guestHeader))
		if guestID == "" {
			writeError(w, http.StatusUnauthorized, "Guest ID required")
			return
		}
		next(w, r, guestID)
	})
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.IssueGuest()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"guest_id": user.GuestToken,
		"user_id":  user.ID,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, guestID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	user, err := s.app.VerifyGuest(guestID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    user.ID,
		"guest_id":   user.GuestToken,
		"created_at": user.CreatedAt,
	})
}

// /api/images
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request, guestID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleListImages(w, r, guestID)
	case http.MethodPost:
		s.handleCreateImage(w, r, guestID)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request, guestID string) {
	images, err := s.app.ListImages(guestID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if images == nil {
		images = []domain.Image{}
	}
	writeJSON(w, http.StatusOK, images)
}

type createImageRequest struct {
	Title       string `json:"title"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

func (s *Server) handleCreateImage(w http.ResponseWriter, r *http.Request, guestID string) {
	var req createImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	img, err := s.app.CreateImage(guestID, app.CreateImageInput{
		Title:       req.Title,
		ImageURL:    req.ImageURL,
		Description: req.Description,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

type updateImageRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	ImageURL     *string `json:"image_url"`
	DisplayOrder *int    `json:"display_order"`
}

// /api/images/{id}
func (s *Server) handleImageByID(w http.ResponseWriter, r *http.Request, guestID string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/images/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPut:
		s.handleUpdateImage(w, r, guestID, id)
	case http.MethodDelete:
		s.handleDeleteImage(w, r, guestID, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateImage(w http.ResponseWriter, r *http.Request, guestID, id string) {
	var req updateImageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	img, err := s.app.UpdateImage(guestID, id, domain.ImageUpdate{
		Title:        req.Title,
		Description:  req.Description,
		ImageURL:     req.ImageURL,
		DisplayOrder: req.DisplayOrder,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request, guestID, id string) {
	if err := s.app.DeleteImage(guestID, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Image deleted"})
}

type reorderRequest struct {
	Order []domain.OrderItem `json:"order"`
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request, guestID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ReorderImages(guestID, req.Order); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reordered"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, guestID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	url, key, err := s.app.UploadImage(r.Context(), guestID, header.Filename, file, header.Size)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"url":      url,
		"filename": key,
	})
}

// writeAppError maps core errors to HTTP statuses. Anything that is not a
// sentinel is an underlying store failure and surfaces as 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrGuestNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, app.ErrImageNotFound):
		writeError(w, http.StatusNotFound, "Image not found or access denied")
	case errors.Is(err, app.ErrImageURLRequired):
		writeError(w, http.StatusBadRequest, "image_url is required")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}
