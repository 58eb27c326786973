package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"guestgallery/internal/util"
	"guestgallery/pkg/domain"
	"guestgallery/pkg/storage"
	"guestgallery/pkg/store"
)

const defaultTitle = "Untitled"

// Config holds runtime configuration for the core application.
// Store and Objects override the Postgres/MinIO backends when set,
// which lets tests substitute in-memory doubles.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPublicURL string
}

// App wires the guest identity resolver and the image collection manager.
// It holds no per-request state; every operation resolves the guest token
// against the store anew.
type App struct {
	store   store.Store
	objects storage.ObjectStore
}

// New constructs the application with database-backed metadata storage and
// object storage for uploaded binaries.
func New(cfg Config) (*App, error) {
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, cfg.MinioPublicURL)
		if err != nil {
			return nil, err
		}
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{store: dataStore, objects: objects}, nil
}

// IssueGuest generates a fresh opaque guest token and creates its user row.
func (a *App) IssueGuest() (domain.User, error) {
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		GuestToken:   uuid.NewString(),
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := a.store.CreateUser(user); err != nil {
		return domain.User{}, fmt.Errorf("create guest: %w", err)
	}
	return user, nil
}

// VerifyGuest returns the user behind a token and refreshes last_accessed.
// The timestamp write is best-effort relative to the read: a failure is
// logged and the lookup result returned unchanged.
func (a *App) VerifyGuest(token string) (domain.User, error) {
	user, err := a.resolveUser(token)
	if err != nil {
		return domain.User{}, err
	}
	now := time.Now().UTC()
	if err := a.store.TouchUser(user.ID, now); err != nil {
		slog.Warn("last_accessed update failed, ignoring", "user_id", user.ID, "err", err)
	} else {
		user.LastAccessed = now
	}
	return user, nil
}

// resolveUser maps a guest token to its user row. Unlike VerifyGuest it does
// not touch last_accessed.
func (a *App) resolveUser(token string) (domain.User, error) {
	user, ok, err := a.store.GetUserByToken(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup guest: %w", err)
	}
	if !ok {
		return domain.User{}, ErrGuestNotFound
	}
	return user, nil
}

// ListImages returns the caller's images ascending by display order.
// An empty collection is a valid result.
func (a *App) ListImages(token string) ([]domain.Image, error) {
	user, err := a.resolveUser(token)
	if err != nil {
		return nil, err
	}
	images, err := a.store.ListImagesByOwner(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// CreateImageInput carries the caller-supplied fields of a new image.
type CreateImageInput struct {
	Title       string
	ImageURL    string
	Description string
}

// CreateImage appends a record at the end of the caller's ordering:
// display order is one past the current maximum, or 0 for the first image.
func (a *App) CreateImage(token string, in CreateImageInput) (domain.Image, error) {
	if strings.TrimSpace(in.ImageURL) == "" {
		return domain.Image{}, ErrImageURLRequired
	}
	user, err := a.resolveUser(token)
	if err != nil {
		return domain.Image{}, err
	}
	next := 0
	maxOrder, found, err := a.store.MaxDisplayOrder(user.ID)
	if err != nil {
		return domain.Image{}, fmt.Errorf("max display order: %w", err)
	}
	if found {
		next = maxOrder + 1
	}
	title := in.Title
	if title == "" {
		title = defaultTitle
	}
	now := time.Now().UTC()
	img := domain.Image{
		ID:           util.NewID(),
		UserID:       user.ID,
		Title:        title,
		ImageURL:     in.ImageURL,
		Description:  in.Description,
		DisplayOrder: next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateImage(img); err != nil {
		return domain.Image{}, fmt.Errorf("create image: %w", err)
	}
	return img, nil
}

// UpdateImage overwrites only the fields present in upd; updated_at is
// always refreshed. The ownership check is a separate read before the
// write; the race between them is accepted.
func (a *App) UpdateImage(token, id string, upd domain.ImageUpdate) (domain.Image, error) {
	user, err := a.resolveUser(token)
	if err != nil {
		return domain.Image{}, err
	}
	img, ok, err := a.store.GetImageForOwner(id, user.ID)
	if err != nil {
		return domain.Image{}, fmt.Errorf("lookup image: %w", err)
	}
	if !ok {
		return domain.Image{}, ErrImageNotFound
	}
	now := time.Now().UTC()
	if err := a.store.UpdateImage(id, upd, now); err != nil {
		return domain.Image{}, fmt.Errorf("update image: %w", err)
	}
	if upd.Title != nil {
		img.Title = *upd.Title
	}
	if upd.Description != nil {
		img.Description = *upd.Description
	}
	if upd.ImageURL != nil {
		img.ImageURL = *upd.ImageURL
	}
	if upd.DisplayOrder != nil {
		img.DisplayOrder = *upd.DisplayOrder
	}
	img.UpdatedAt = now
	return img, nil
}

// DeleteImage removes an image after the same ownership precondition as
// UpdateImage. Deleting a foreign or unknown id is indistinguishable from
// any other not-found case.
func (a *App) DeleteImage(token, id string) error {
	user, err := a.resolveUser(token)
	if err != nil {
		return err
	}
	_, ok, err := a.store.GetImageForOwner(id, user.ID)
	if err != nil {
		return fmt.Errorf("lookup image: %w", err)
	}
	if !ok {
		return ErrImageNotFound
	}
	if err := a.store.DeleteImage(id); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// ReorderImages applies each order assignment independently. Ids not owned
// by the caller match zero rows and are skipped; a store failure aborts the
// remaining updates with prior ones already committed.
func (a *App) ReorderImages(token string, items []domain.OrderItem) error {
	user, err := a.resolveUser(token)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := a.store.SetDisplayOrder(item.ID, user.ID, item.Order); err != nil {
			return fmt.Errorf("set display order for %s: %w", item.ID, err)
		}
	}
	return nil
}

// UploadImage stores the binary under a caller-scoped key and returns its
// public URL together with the key. The record linking the URL to the
// gallery is the client's job via CreateImage.
func (a *App) UploadImage(ctx context.Context, token, filename string, r io.Reader, size int64) (string, string, error) {
	user, err := a.resolveUser(token)
	if err != nil {
		return "", "", err
	}
	key := buildObjectKey(user.ID, filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return "", "", fmt.Errorf("save file: %w", err)
	}
	return a.objects.PublicURL(key), key, nil
}

func buildObjectKey(userID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(userID, uuid.NewString()+ext)
}
