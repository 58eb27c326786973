package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	GuestToken   string    `gorm:"uniqueIndex;not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastAccessed time.Time `gorm:"not null"`
}

type ImageModel struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"not null;index"`
	Title        string `gorm:"not null"`
	ImageURL     string `gorm:"type:text;not null"`
	Description  string
	DisplayOrder int       `gorm:"not null;default:0;index"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}
