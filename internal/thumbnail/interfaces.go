package thumbnail

import (
	"context"
	"io"
	"time"
)

// Renderer rasterizes a page into a raw image file inside dir.
type Renderer interface {
	Render(ctx context.Context, rawURL string, viewport Viewport, dir string) (string, error)
}

// Transcoder turns a raw capture into the fixed-size output image.
type Transcoder interface {
	Transcode(ctx context.Context, rawPath string) (string, error)
}

// Publisher uploads an artifact and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, filePath, collection, entityID, contentType string) (string, error)
}

// ObjectStore is the durable object storage collaborator.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, contentType string, r io.Reader) error
	PublicURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// ProjectStore is the relational data store collaborator.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (Project, error)
	SetThumbnailURL(ctx context.Context, id string, url string) error
	Ping(ctx context.Context) error
}

// Authenticator resolves a bearer token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// Locker provides per-key advisory locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// Notifier announces completed captures.
type Notifier interface {
	Notify(ctx context.Context, event CapturedEvent) error
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	HashReader(r io.Reader) (string, int64, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces capture IDs.
type IDGenerator interface {
	NewID() (string, error)
}
