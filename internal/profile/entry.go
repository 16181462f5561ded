package profile

import "strings"

// EntryToken extracts the profile name encoded in the bracketed prefix of a
// favorite label or history entry: "[name]: label" and "[name] label" both
// yield "name". Entries without a prefix yield "".
func EntryToken(entry string) string {
	s := strings.TrimSpace(entry)
	if !strings.HasPrefix(s, "[") {
		return ""
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(s[1:end])
}

// FormatEntry encodes name into a favorite/history entry.
func FormatEntry(name, label string) string {
	return "[" + name + "]: " + label
}

// EntryLabel returns the part of an entry after its bracketed prefix.
func EntryLabel(entry string) string {
	s := strings.TrimSpace(entry)
	end := strings.Index(s, "]")
	if !strings.HasPrefix(s, "[") || end < 0 {
		return s
	}
	rest := strings.TrimSpace(s[end+1:])
	return strings.TrimSpace(strings.TrimPrefix(rest, ":"))
}
