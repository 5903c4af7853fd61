package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/banshee-data/parcelmerge/internal/monitoring"
)

// errHTTPNotFound marks a 404 so missing sidecars can be skipped.
type errHTTPNotFound struct{ url string }

func (e *errHTTPNotFound) Error() string { return fmt.Sprintf("%s: %v", e.url, ErrNotFound) }
func (e *errHTTPNotFound) Unwrap() error { return ErrNotFound }

// resolveHTTP downloads an http(s):// file and its sidecars into
// cacheDir/<host>/<path>. Query strings are sent but not part of the cache
// key.
func (r *Resolver) resolveHTTP(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Host == "" || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return "", fmt.Errorf("%q does not name a file", raw)
	}

	local, err := r.get(ctx, u)
	if err != nil {
		return "", err
	}
	for _, sib := range sidecars(u.Path) {
		su := *u
		su.Path = sib
		su.RawPath = ""
		if _, err := r.get(ctx, &su); err != nil {
			var missing *errHTTPNotFound
			if !errors.As(err, &missing) {
				return "", err
			}
		}
	}
	return local, nil
}

func (r *Resolver) get(ctx context.Context, u *url.URL) (string, error) {
	local, err := r.localPath(u.Host, strings.TrimPrefix(path.Clean(u.Path), "/"))
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		monitoring.Debugf("[fetch] cache hit %s", local)
		return local, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	client := r.http
	r.mu.Unlock()
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &errHTTPNotFound{url: u.String()}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("get %s: unexpected status %d", u, resp.StatusCode)
	}

	n, err := install(local, resp.Body)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", u, err)
	}
	monitoring.Debugf("[fetch] downloaded %s (%d bytes)", u, n)
	return local, nil
}
