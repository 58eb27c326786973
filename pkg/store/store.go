package store

import (
	"time"

	"guestgallery/pkg/domain"
)

// Store defines persistence operations for guest users and their images.
type Store interface {
	// users
	CreateUser(domain.User) error
	GetUserByToken(token string) (domain.User, bool, error)
	TouchUser(id string, at time.Time) error

	// images
	ListImagesByOwner(ownerID string) ([]domain.Image, error)
	MaxDisplayOrder(ownerID string) (int, bool, error)
	CreateImage(domain.Image) error
	GetImageForOwner(id, ownerID string) (domain.Image, bool, error)
	UpdateImage(id string, upd domain.ImageUpdate, updatedAt time.Time) error
	DeleteImage(id string) error

	// SetDisplayOrder updates one image's position. The owner filter is part
	// of the statement: an id not owned by ownerID matches zero rows and is
	// not an error.
	SetDisplayOrder(id, ownerID string, order int) error
}
