package issue

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// Normalization regexes compiled once at package init.
var (
	reDatetime   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`)
	reHexAddr    = regexp.MustCompile(`0x[0-9a-fA-F]+`)
	reUUID       = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reBracketNum = regexp.MustCompile(`\[\d+\]`)
	reParenNum   = regexp.MustCompile(`\(\d+\)`)
	reLineCol    = regexp.MustCompile(`:\d+:\d+`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// Fingerprint computes the stable grouping key of an event: events with the
// same type, normalized message and file land in the same issue.
func Fingerprint(event *models.Event) string {
	key := event.Type + ":" + NormalizeMessage(event.Detail.Message) + ":" + NormalizeFilename(event.Detail.Filename)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}

// NormalizeMessage applies all normalization rules to an error message.
func NormalizeMessage(msg string) string {
	msg = reDatetime.ReplaceAllString(msg, "")
	msg = reHexAddr.ReplaceAllString(msg, "0xADDR")
	msg = reUUID.ReplaceAllString(msg, "UUID")
	msg = reBracketNum.ReplaceAllString(msg, "[N]")
	msg = reParenNum.ReplaceAllString(msg, "(N)")
	msg = reWhitespace.ReplaceAllString(msg, " ")
	msg = strings.ToLower(msg)
	msg = strings.TrimSpace(msg)
	msg = truncateString(msg, 500)
	return msg
}

// NormalizeFilename drops the query string and trailing line:column so that
// cache-busted bundles and minor code moves keep the same fingerprint.
func NormalizeFilename(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = reLineCol.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}

// MetadataFromEvent builds the summary snapshot stored on a new issue.
func MetadataFromEvent(event *models.Event) models.IssueMetadata {
	return models.IssueMetadata{
		Type:     event.Type,
		Message:  truncateString(event.Detail.Message, 2000),
		Filename: event.Detail.Filename,
		Others:   truncateString(event.Detail.Others, 2000),
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
