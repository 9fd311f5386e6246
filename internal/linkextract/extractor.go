// Package linkextract finds links inside free-form message text.
package linkextract

import (
	"regexp"
)

var (
	linkRegex  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.\-]*://[^\s<>]+`)
	tenorRegex = regexp.MustCompile(`^https?://(?:www\.)?tenor\.com/view/[^?#\s]*?-(\d+)(?:[?#].*)?$`)
)

// Extract returns every scheme://... run of text in order of appearance.
// Duplicates are kept.
func Extract(text string) []string {
	matches := linkRegex.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	links := make([]string, 0, len(matches))
	for _, match := range matches {
		links = append(links, text[match[0]:match[1]])
	}

	return links
}

// RewriteShareLink turns a tenor share page into its direct GIF address.
// Other links are returned unchanged.
func RewriteShareLink(link string) string {
	match := tenorRegex.FindStringSubmatch(link)
	if match == nil {
		return link
	}

	return "https://media.tenor.com/" + match[1] + ".gif"
}

// ExtractMedia extracts links from text and rewrites share links to media.
func ExtractMedia(text string) []string {
	links := Extract(text)
	for idx, link := range links {
		links[idx] = RewriteShareLink(link)
	}

	return links
}
