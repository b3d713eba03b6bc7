package collector

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Deduplicator tracks every URL the run has ever seen, seeded from the
// checkpoint store on resume so known URLs are never re-enqueued.
type Deduplicator struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewDeduplicator creates a Deduplicator with the given estimated capacity.
func NewDeduplicator(estimatedCapacity int) *Deduplicator {
	return &Deduplicator{
		seen: make(map[string]struct{}, estimatedCapacity),
	}
}

// IsSeen returns true if the URL (after canonicalization) has been seen.
func (d *Deduplicator) IsSeen(rawURL string) bool {
	canonical := CanonicalizeURL(rawURL)
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[canonical]
	return ok
}

// MarkSeen marks a URL as seen.
func (d *Deduplicator) MarkSeen(rawURL string) {
	canonical := CanonicalizeURL(rawURL)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[canonical] = struct{}{}
}

// Seed marks a batch of URLs as seen, regardless of their active flag: a
// logically deleted URL must still never be re-discovered.
func (d *Deduplicator) Seed(urls map[string]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for u := range urls {
		d.seen[CanonicalizeURL(u)] = struct{}{}
	}
}

// Count returns the number of unique URLs seen.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// trackingParams are query keys that never change which page a detail URL
// points at; list sites routinely vary them per impression.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"ref":     {},
}

func isTrackingParam(key string) bool {
	if strings.HasPrefix(key, "utm_") {
		return true
	}
	_, ok := trackingParams[key]
	return ok
}

// CanonicalizeURL normalizes a URL for deduplication:
// - lowercases scheme and host
// - removes fragment
// - drops tracking query parameters (utm_*, click ids, ref)
// - sorts the remaining query parameters
// - removes trailing slash (except root)
// - removes default ports (80 for http, 443 for https)
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			if isTrackingParam(k) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}
