// Package storage publishes thumbnail artifacts to an object store.
//
// Keys are deterministic per entity ({collection}/{entityID}.{ext}), so a
// re-capture overwrites the previous object instead of accumulating copies.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ExtensionFor returns the file extension for a content type, defaulting to "bin".
func ExtensionFor(contentType string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(contentType))]; ok {
		return ext
	}
	return "bin"
}

// ObjectKey builds the deterministic object key for an entity.
func ObjectKey(collection, entityID, contentType string) string {
	return fmt.Sprintf("%s/%s.%s", strings.Trim(collection, "/"), entityID, ExtensionFor(contentType))
}

// Publisher uploads finished thumbnails and resolves their public URLs.
type Publisher struct {
	store         thumbnail.ObjectStore
	uploadTimeout time.Duration
	logger        *zap.Logger
}

// NewPublisher wires a Publisher around store. A zero uploadTimeout disables the bound.
func NewPublisher(store thumbnail.ObjectStore, uploadTimeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: store, uploadTimeout: uploadTimeout, logger: logger}, nil
}

// Publish uploads filePath under the entity's key and returns its public URL.
func (p *Publisher) Publish(ctx context.Context, filePath, collection, entityID, contentType string) (string, error) {
	if err := thumbnail.ValidateEntityID(entityID); err != nil {
		return "", err
	}
	if strings.Trim(collection, "/") == "" {
		return "", thumbnail.Errorf(thumbnail.KindInvalidInput, "publish", "collection is required")
	}
	key := ObjectKey(collection, entityID, contentType)

	f, err := os.Open(filePath) //nolint:gosec // path is produced inside a capture workspace
	if err != nil {
		return "", thumbnail.NewError(thumbnail.KindUploadFailure, "open artifact", err)
	}
	defer func() {
		_ = f.Close()
	}()

	uploadCtx := ctx
	if p.uploadTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, p.uploadTimeout)
		defer cancel()
	}
	if err := p.store.PutObject(uploadCtx, key, contentType, f); err != nil {
		if ctx.Err() != nil {
			return "", thumbnail.NewError(thumbnail.KindCanceled, "put object", ctx.Err())
		}
		return "", thumbnail.NewError(thumbnail.KindUploadFailure, "put object", err)
	}

	url, err := p.store.PublicURL(ctx, key)
	if err != nil {
		return "", thumbnail.NewError(thumbnail.KindResolutionFailure, "resolve public url", err)
	}
	p.logger.Debug("thumbnail published", zap.String("key", key), zap.String("url", url))
	return url, nil
}
