package streams

import (
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// pathPrefixes are the youtube.com paths that carry the id as the next segment.
var pathPrefixes = []string{"/live/", "/shorts/", "/embed/", "/v/"}

// ExtractID returns the 11-character video id of a YouTube watch, live,
// shorts, embed or youtu.be link, or "" when the link is not one.
func ExtractID(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		for _, p := range pathPrefixes {
			if strings.HasPrefix(u.Path, p) {
				id = firstSegment(strings.TrimPrefix(u.Path, p))
				break
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// IsValidURL reports whether link is a YouTube link with a video id.
func IsValidURL(link string) bool {
	return ExtractID(link) != ""
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
