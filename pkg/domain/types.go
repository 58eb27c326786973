package domain

import "time"

// User is an anonymous guest identity. A row is created on first contact
// with a new guest token and is never deleted by this service.
type User struct {
	ID           string    `json:"id"`
	GuestToken   string    `json:"guest_token"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Image is a gallery record owned by exactly one user. The owner is set at
// creation and immutable; every read and write is scoped by user_id equality.
type Image struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	ImageURL     string    `json:"image_url"`
	Description  string    `json:"description"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ImageUpdate carries the optional fields of a partial image update.
// Nil fields are left untouched.
type ImageUpdate struct {
	Title        *string
	Description  *string
	ImageURL     *string
	DisplayOrder *int
}

// OrderItem assigns a display order to one image in a reorder request.
type OrderItem struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}
