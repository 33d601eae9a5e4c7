// Package horosafe holds the input guards used on the ingestion path:
// SSRF checks on connector URLs, containment checks on blob keys, bounded
// body reads and identifier validation for connector and source IDs.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a key or path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// ErrTooLarge is returned by LimitedReadAll when the body exceeds its cap.
var ErrTooLarge = errors.New("horosafe: body exceeds size limit")

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// SafePath joins key under base and fails if the result escapes base.
// Blob keys such as "raw/src-1/ab/abcdef" pass; "../x" does not.
func SafePath(base, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return "", ErrPathTraversal
	}
	root := filepath.Clean(base)
	joined := filepath.Join(root, filepath.Clean("/"+key))
	if joined == root || !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// ValidateURL checks that rawURL is http(s), has a host, and that neither a
// literal IP nor any resolved address is private. Unresolvable hosts pass:
// the fetch itself will fail with a network error.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if isPrivate(addr) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if addr, err := netip.ParseAddr(a); err == nil && isPrivate(addr) {
			return ErrSSRF
		}
	}
	return nil
}

// AllowLoopback is a validator for tests against httptest servers: it keeps
// the scheme and host checks but accepts loopback targets.
func AllowLoopback(rawURL string) error {
	err := ValidateURL(rawURL)
	if errors.Is(err, ErrSSRF) {
		u, _ := url.Parse(rawURL)
		if addr, perr := netip.ParseAddr(u.Hostname()); perr == nil && addr.IsLoopback() {
			return nil
		}
		if u.Hostname() == "localhost" {
			return nil
		}
	}
	return err
}

// ValidateIdentifier accepts [A-Za-z0-9_.-], 1 to 128 characters. Connector
// and source IDs end up in lease keys and blob paths.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("horosafe: identifier too long (max 128)")
	}
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
		if !ok {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and returns ErrTooLarge if
// more is available.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
