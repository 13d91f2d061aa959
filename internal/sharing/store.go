package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/sharelink/internal/models"
	"gorm.io/gorm"
)

// LinkStore persists shared links. Token uniqueness is enforced by the
// unique index on shared_links.token.
type LinkStore struct {
	db *gorm.DB
}

func NewLinkStore(db *gorm.DB) *LinkStore {
	return &LinkStore{db: db}
}

// Create inserts link. A duplicate token yields errTokenCollision.
func (s *LinkStore) Create(ctx context.Context, link *models.SharedLink) error {
	err := s.db.WithContext(ctx).Create(link).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errTokenCollision
	}
	if err != nil {
		return fmt.Errorf("failed to create shared link: %w", err)
	}
	return nil
}

func (s *LinkStore) TokenExists(ctx context.Context, token string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.SharedLink{}).
		Where("token = ?", token).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return count > 0, nil
}

// FindByToken reads the link row in a single statement.
func (s *LinkStore) FindByToken(ctx context.Context, token string) (*models.SharedLink, error) {
	var link models.SharedLink
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shared link: %w", err)
	}
	return &link, nil
}

// MarkRevoked sets revoked_at only if it is still unset, so concurrent
// revokes keep the first timestamp. It reports whether a row changed.
func (s *LinkStore) MarkRevoked(ctx context.Context, token string, at time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.SharedLink{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", at)
	if result.Error != nil {
		return false, fmt.Errorf("failed to revoke shared link: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *LinkStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.SharedLink, error) {
	tx := s.db.WithContext(ctx).
		Where("owner_account_id = ?", ownerID).
		Order("issued_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}

	var links []models.SharedLink
	if err := tx.Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list shared links: %w", err)
	}
	return links, nil
}
