// Package transcript holds the ordered chat log of one session.
package transcript

import "time"

// Role tags who produced an entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one chat turn. Content is fixed once appended; only
// Attachments may be edited afterwards.
type Entry struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Attachments []string  `json:"images_urls"`
	Timestamp   time.Time `json:"timestamp"`
	Generation  uint64    `json:"generation"`
}

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	out := e
	if e.Attachments != nil {
		out.Attachments = make([]string, len(e.Attachments))
		copy(out.Attachments, e.Attachments)
	} else {
		out.Attachments = []string{}
	}
	return out
}
