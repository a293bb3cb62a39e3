package thumbnail

import (
	"errors"
	"net/url"
	"strings"
)

// ValidateTargetURL ensures rawURL is an absolute http or https URL with a host.
func ValidateTargetURL(rawURL string) (*url.URL, error) {
	const op = "validate url"
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, NewError(KindInvalidInput, op, errors.New("url is required"))
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, NewError(KindInvalidInput, op, err)
	}
	if !u.IsAbs() {
		return nil, Errorf(KindInvalidInput, op, "url %q must be absolute", trimmed)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, Errorf(KindInvalidInput, op, "unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, Errorf(KindInvalidInput, op, "url %q has no host", trimmed)
	}
	return u, nil
}

// ValidateEntityID rejects identifiers that cannot safely form an object key.
func ValidateEntityID(id string) error {
	const op = "validate entity id"
	if strings.TrimSpace(id) == "" {
		return NewError(KindInvalidInput, op, errors.New("entity id is required"))
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return Errorf(KindInvalidInput, op, "entity id %q contains path characters", id)
	}
	return nil
}
