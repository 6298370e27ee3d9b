package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Mime types accepted for prescription files.
var allowedPrescriptionTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/heic":      true,
	"image/heif":      true,
}

// AllowedPrescriptionType reports whether a mime type may be uploaded as a
// prescription.
func AllowedPrescriptionType(mimeType string) bool {
	return allowedPrescriptionTypes[mimeType]
}

// StorageService defines the interface for blob storage operations.
type StorageService interface {
	// Upload stores the content under the given folder and returns a
	// download URL.
	Upload(ctx context.Context, content io.Reader, folder, filename string) (string, error)
	Delete(ctx context.Context, publicID string) error
}

// CloudinaryStorageService implements StorageService using Cloudinary.
type CloudinaryStorageService struct {
	client *cloudinary.Cloudinary
}

// NewCloudinaryStorageService creates a Cloudinary-backed storage service.
func NewCloudinaryStorageService(client *cloudinary.Cloudinary) *CloudinaryStorageService {
	return &CloudinaryStorageService{client: client}
}

func (s *CloudinaryStorageService) Upload(ctx context.Context, content io.Reader, folder, filename string) (string, error) {
	resp, err := s.client.Upload.Upload(ctx, content, uploader.UploadParams{
		Folder:   folder,
		PublicID: filename,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload failed: %w", err)
	}
	return resp.SecureURL, nil
}

func (s *CloudinaryStorageService) Delete(ctx context.Context, publicID string) error {
	_, err := s.client.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("storage: delete failed: %w", err)
	}
	return nil
}
