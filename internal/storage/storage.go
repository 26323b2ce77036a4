// Package storage holds uploaded recipe images.
//
// Two backends implement ImageStore:
//   - LocalStore writes under a directory and is served by the API at /media/
//   - S3Store writes to an S3-compatible bucket (AWS, MinIO)
//
// The database only ever stores the object key; URL turns a key into
// something a client can fetch.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for keys that are empty, absolute, or try to
// climb out of the store with "..".
var ErrInvalidKey = errors.New("storage: invalid object key")

// ImageStore is the blob store behind recipe images.
type ImageStore interface {
	// Put stores data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL for key.
	URL(key string) string
}

// NewImageKey returns a fresh, collision-free key for a recipe image with
// the given extension (without the dot), e.g.
//
//	uploads/recipe/3f0c8a6e-8f0e-4b55-9a57-7d1d5b0e2c11.jpg
func NewImageKey(ext string) string {
	return path.Join("uploads", "recipe", uuid.NewString()+"."+strings.ToLower(ext))
}

// checkKey rejects keys that could escape the store root.
func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
