package download

import (
	"net/url"
	"strings"
)

// Normalize canonicalizes the common alternate YouTube URL shapes
// (youtu.be short links, shorts/live paths, watch URLs carrying tracking
// parameters) to https://www.youtube.com/watch?v=<id>. Metadata resolution
// is observed to fail on non-canonical forms with extraneous query
// parameters, so everything else is stripped. Any input that does not
// match a known shape passes through unchanged; Normalize never fails and
// is idempotent.
func Normalize(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")

	if host == "youtu.be" {
		id := strings.Trim(parsed.Path, "/")
		if i := strings.IndexByte(id, '/'); i >= 0 {
			id = id[:i]
		}
		if id != "" {
			return watchURL(id)
		}
		return raw
	}

	if host == "youtube.com" || host == "music.youtube.com" {
		if v := parsed.Query().Get("v"); v != "" {
			return watchURL(v)
		}
		parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		if len(parts) >= 2 && (parts[0] == "shorts" || parts[0] == "live") && parts[1] != "" {
			return watchURL(parts[1])
		}
	}

	return raw
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
