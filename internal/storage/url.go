package storage

import (
	"fmt"
	"net/url"
	"strings"

	"bsid.es/diana"
	"bsid.es/diana/mem"
	"bsid.es/diana/sqlite"
)

// NewFromURL opens the alarm store named by storeURL, either mem:// or
// sqlite://<path>. Stores that hold resources also implement io.Closer.
func NewFromURL(storeURL string) (diana.AlarmStore, error) {
	u, err := url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing storage URL: %w", err)
	}

	switch u.Scheme {
	case "mem":
		return mem.NewAlarmStore(), nil
	case "sqlite":
		path := strings.TrimPrefix(storeURL, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite storage URL %q has no path", storeURL)
		}
		s, err := sqlite.OpenAlarmStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("no storage provider found for %s:// URL", u.Scheme)
	}
}
