package sharing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/sharelink/internal/database"
	"github.com/sdko-org/sharelink/internal/models"
	"github.com/sdko-org/sharelink/internal/storage"
	"github.com/sirupsen/logrus"
)

// maxIssueAttempts bounds token draws per CreateLink. Real collisions at 256
// bits do not happen; hitting the bound means the random source is broken.
const maxIssueAttempts = 5

type objectStatter interface {
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
}

// ResourceRef identifies the stored object a link points at. Path is the
// full object key inside Bucket.
type ResourceRef struct {
	OwnerAccountID string
	Bucket         string
	Path           string
	Filename       string
	ContentType    *string
	Size           int64
}

// Resolution is the outcome of looking a token up. Link is set for every
// status except StatusNotFound.
type Resolution struct {
	Status Status
	Link   *models.SharedLink
}

// Err maps a non-active resolution onto the error taxonomy.
func (r Resolution) Err() error {
	switch r.Status {
	case StatusActive:
		return nil
	case StatusExpired:
		return ErrLinkExpired
	case StatusRevoked:
		return ErrLinkRevoked
	default:
		return ErrTokenNotFound
	}
}

// Service is the only writer of shared link state.
type Service struct {
	links   *LinkStore
	tokens  *TokenIssuer
	objects objectStatter
	now     func() time.Time
	log     *logrus.Entry
}

func NewService(logger *logrus.Logger, links *LinkStore, tokens *TokenIssuer, objects objectStatter, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		links:   links,
		tokens:  tokens,
		objects: objects,
		now:     now,
		log:     logger.WithField("component", "share_service"),
	}
}

// CreateLink validates the duration, checks the object still exists and
// persists a new link under a freshly issued token.
func (s *Service) CreateLink(ctx context.Context, ref ResourceRef, days int) (*models.SharedLink, error) {
	if err := ValidateDuration(days); err != nil {
		return nil, err
	}

	info, err := s.objects.Stat(ctx, ref.Bucket, ref.Path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrResourceNotFound, ref.Bucket, ref.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	contentType := ref.ContentType
	if contentType == nil && info.ContentType != "" {
		contentType = &info.ContentType
	}
	size := ref.Size
	if size <= 0 {
		size = info.Size
	}

	log := s.log.WithFields(logrus.Fields{
		"owner":  ref.OwnerAccountID,
		"bucket": ref.Bucket,
		"path":   ref.Path,
	})

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		token, err := s.tokens.Issue(ctx)
		if errors.Is(err, errTokenCollision) {
			log.WithField("attempt", attempt).Warn("Share token collision on issue")
			continue
		}
		if err != nil {
			return nil, err
		}

		issuedAt := s.now().UTC().Truncate(time.Microsecond)
		expiresAt, err := ComputeExpiry(issuedAt, days)
		if err != nil {
			return nil, err
		}

		link := &models.SharedLink{
			Token:          token,
			OwnerAccountID: ref.OwnerAccountID,
			Bucket:         ref.Bucket,
			Path:           ref.Path,
			Filename:       ref.Filename,
			ContentType:    contentType,
			Size:           size,
			IssuedAt:       issuedAt,
			ExpiresAt:      expiresAt,
		}

		err = database.RetryOnce(ctx, func() error {
			return s.links.Create(ctx, link)
		})
		if errors.Is(err, errTokenCollision) {
			log.WithField("attempt", attempt).Warn("Share token collision on insert")
			continue
		}
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"token_prefix": token[:6],
			"expires_at":   expiresAt,
		}).Info("Shared link created")
		return link, nil
	}

	log.Error("Exhausted share token attempts")
	return nil, ErrTokenExhausted
}

// ResolveLink classifies token at now from one read of the link row. It
// does not record the access.
func (s *Service) ResolveLink(ctx context.Context, token string, now time.Time) (Resolution, error) {
	if !ValidTokenFormat(token) {
		return Resolution{Status: StatusNotFound}, nil
	}

	link, err := s.links.FindByToken(ctx, token)
	if errors.Is(err, ErrTokenNotFound) {
		return Resolution{Status: StatusNotFound}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{Status: Classify(link, now), Link: link}, nil
}

// Revoke permanently deactivates the link. Revoking an already revoked or
// expired link succeeds without changing anything observable.
func (s *Service) Revoke(ctx context.Context, token, ownerID string) error {
	link, err := s.Get(ctx, token, ownerID)
	if err != nil {
		return err
	}
	if link.RevokedAt != nil {
		return nil
	}

	changed, err := s.links.MarkRevoked(ctx, token, s.now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return err
	}
	if changed {
		s.log.WithFields(logrus.Fields{
			"owner":        ownerID,
			"token_prefix": token[:6],
		}).Info("Shared link revoked")
	}
	return nil
}

// Get returns the link if ownerID owns it.
func (s *Service) Get(ctx context.Context, token, ownerID string) (*models.SharedLink, error) {
	if !ValidTokenFormat(token) {
		return nil, ErrTokenNotFound
	}
	link, err := s.links.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link.OwnerAccountID != ownerID {
		return nil, ErrForbidden
	}
	return link, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.SharedLink, error) {
	return s.links.ListByOwner(ctx, ownerID, limit, offset)
}

// Now exposes the service clock so callers resolve against the same time source.
func (s *Service) Now() time.Time {
	return s.now()
}
