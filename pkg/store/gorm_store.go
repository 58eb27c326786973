package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"guestgallery/pkg/domain"
)

const migrateLockID int64 = 48114811

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ImageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a guest user row.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Create(&model).Error
}

// GetUserByToken looks up a user by guest token.
func (s *GormStore) GetUserByToken(token string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("guest_token = ?", token).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// TouchUser refreshes the last-accessed timestamp.
func (s *GormStore) TouchUser(id string, at time.Time) error {
	return s.db.Model(&UserModel{}).
		Where("id = ?", id).
		Update("last_accessed", at.UTC()).Error
}

// ListImagesByOwner returns the owner's images ascending by display order.
func (s *GormStore) ListImagesByOwner(ownerID string) ([]domain.Image, error) {
	var models []ImageModel
	if err := s.db.Where("user_id = ?", ownerID).
		Order("display_order ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Image, 0, len(models))
	for _, m := range models {
		res = append(res, imageFromModel(m))
	}
	return res, nil
}

// MaxDisplayOrder returns the highest display order among the owner's images.
// The second result is false when the owner has no images.
func (s *GormStore) MaxDisplayOrder(ownerID string) (int, bool, error) {
	var model ImageModel
	err := s.db.Where("user_id = ?", ownerID).
		Order("display_order DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	return model.DisplayOrder, true, nil
}

// CreateImage inserts an image row.
func (s *GormStore) CreateImage(img domain.Image) error {
	model := imageToModel(img)
	return s.db.Create(&model).Error
}

// GetImageForOwner retrieves an image matching both id and owner.
func (s *GormStore) GetImageForOwner(id, ownerID string) (domain.Image, bool, error) {
	var model ImageModel
	if err := s.db.Where("id = ? AND user_id = ?", id, ownerID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Image{}, false, nil
		}
		return domain.Image{}, false, err
	}
	return imageFromModel(model), true, nil
}

// UpdateImage overwrites the fields present in upd and refreshes updated_at.
func (s *GormStore) UpdateImage(id string, upd domain.ImageUpdate, updatedAt time.Time) error {
	updates := map[string]any{
		"updated_at": updatedAt.UTC(),
	}
	if upd.Title != nil {
		updates["title"] = *upd.Title
	}
	if upd.Description != nil {
		updates["description"] = *upd.Description
	}
	if upd.ImageURL != nil {
		updates["image_url"] = *upd.ImageURL
	}
	if upd.DisplayOrder != nil {
		updates["display_order"] = *upd.DisplayOrder
	}
	return s.db.Model(&ImageModel{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteImage removes an image row.
func (s *GormStore) DeleteImage(id string) error {
	return s.db.Delete(&ImageModel{}, "id = ?", id).Error
}

// SetDisplayOrder updates display order for an image matching id and owner.
// Zero matched rows is not an error.
func (s *GormStore) SetDisplayOrder(id, ownerID string, order int) error {
	return s.db.Model(&ImageModel{}).
		Where("id = ? AND user_id = ?", id, ownerID).
		Update("display_order", order).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		GuestToken:   u.GuestToken,
		CreatedAt:    u.CreatedAt,
		LastAccessed: u.LastAccessed,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		GuestToken:   m.GuestToken,
		CreatedAt:    m.CreatedAt,
		LastAccessed: m.LastAccessed,
	}
}

func imageToModel(img domain.Image) ImageModel {
	return ImageModel{
		ID:           img.ID,
		UserID:       img.UserID,
		Title:        img.Title,
		ImageURL:     img.ImageURL,
		Description:  img.Description,
		DisplayOrder: img.DisplayOrder,
		CreatedAt:    img.CreatedAt,
		UpdatedAt:    img.UpdatedAt,
	}
}

func imageFromModel(m ImageModel) domain.Image {
	return domain.Image{
		ID:           m.ID,
		UserID:       m.UserID,
		Title:        m.Title,
		ImageURL:     m.ImageURL,
		Description:  m.Description,
		DisplayOrder: m.DisplayOrder,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
