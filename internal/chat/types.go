package chat

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies a conversation across all sources. The remote service keys
// chats by the counterpart they are held with and the conversation group.
type Key struct {
	CounterpartID string
	GroupID       string
}

// String renders the key as "<counterpart>:<group>", the form used in URLs
// and as the display identifier.
func (k Key) String() string {
	return k.CounterpartID + ":" + k.GroupID
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	counterpart, group, ok := strings.Cut(s, ":")
	if !ok || counterpart == "" {
		return Key{}, fmt.Errorf("invalid chat key %q", s)
	}
	return Key{CounterpartID: counterpart, GroupID: group}, nil
}

// Record is one conversation summary as listed by the remote service.
type Record struct {
	Key          Key
	LastActivity time.Time // zero when the remote did not report a parsable time
	// Archived is nil when the listing did not carry an archived flag.
	Archived *bool
	Payload  map[string]any
}

// Page is a single response of a paged listing. Records are newest-first.
type Page struct {
	Records []Record
	// Raw counts the entries the remote listed on this page, including
	// ones that could not be decoded into Records.
	Raw        int
	Total      int
	MostRecent time.Time // zero when absent
}

// Exhausted reports whether the remote listed nothing on this page. Only an
// empty listing ends pagination; a page whose entries were all undecodable
// does not.
func (p Page) Exhausted() bool {
	return len(p.Records) == 0 && p.Raw == 0
}

// Folder is a user-defined chat folder on the remote service.
type Folder struct {
	ID   string
	Name string
}

// Chat is a record as stored locally.
type Chat struct {
	Key          Key
	LastActivity time.Time
	Archived     bool
	Payload      map[string]any
	LocalState   map[string]any
	FirstSeenAt  time.Time
	SyncedAt     time.Time
}

// ParseTimestamp parses the ISO-8601 forms the remote service emits.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// FormatTimestamp renders t as ISO-8601 for API output. The zero time renders
// as an empty string.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
