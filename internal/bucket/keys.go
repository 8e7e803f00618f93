package bucket

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateKey generates a credential pair for the bucket. The secret is
// returned exactly once; listings never include it.
func (s *Service) CreateKey(ctx context.Context, ownerID, bucketID uuid.UUID, label *string) (AccessKey, error) {
	b, err := s.repo.Get(ctx, ownerID, bucketID)
	if err != nil {
		return AccessKey{}, err
	}
	if b.Status == StatusSuspended {
		return AccessKey{}, ErrBucketSuspended
	}

	accessKey, err := randomAccessKey()
	if err != nil {
		return AccessKey{}, fmt.Errorf("generate access key: %w", err)
	}
	secretKey, err := randomSecretKey()
	if err != nil {
		return AccessKey{}, fmt.Errorf("generate secret key: %w", err)
	}

	key := AccessKey{
		ID:        uuid.New(),
		BucketID:  bucketID,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Label:     label,
	}
	return s.repo.CreateKey(ctx, key)
}

// ListKeys returns the bucket's access keys. Secrets are never included.
func (s *Service) ListKeys(ctx context.Context, ownerID, bucketID uuid.UUID) ([]AccessKey, error) {
	if _, err := s.repo.Get(ctx, ownerID, bucketID); err != nil {
		return nil, err
	}
	return s.repo.ListKeys(ctx, ownerID, bucketID)
}

// DeleteKey revokes an access key.
func (s *Service) DeleteKey(ctx context.Context, ownerID, bucketID, keyID uuid.UUID) error {
	if _, err := s.repo.Get(ctx, ownerID, bucketID); err != nil {
		return err
	}
	return s.repo.DeleteKey(ctx, ownerID, bucketID, keyID)
}

func randomAccessKey() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "CH" + strings.ToUpper(hex.EncodeToString(buf)), nil
}

func randomSecretKey() (string, error) {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}
