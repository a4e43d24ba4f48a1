package messages

import (
	"regexp"
	"strings"
)

const maxMentionsPerMessage = 50

// A mention is @handle at the start of the text or after a character that
// cannot be part of a handle, so e-mail addresses do not match.
var mentionPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_.@-])@([A-Za-z0-9_.-]{2,32})`)

// ExtractMentions returns the lowercased handles mentioned in content, in
// order of first appearance and without duplicates.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	handles := make([]string, 0, len(matches))
	for _, m := range matches {
		handle := strings.ToLower(strings.TrimRight(m[1], ".-"))
		if len(handle) < 2 {
			continue
		}
		if _, dup := seen[handle]; dup {
			continue
		}
		seen[handle] = struct{}{}
		handles = append(handles, handle)
		if len(handles) == maxMentionsPerMessage {
			break
		}
	}
	return handles
}
