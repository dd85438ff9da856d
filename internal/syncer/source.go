package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/chatmirror/internal/chat"
)

// Source keys used for watermarks and sync_state rows.
const (
	InboxKey     = "inbox"
	ArchiveKey   = "archives"
	folderPrefix = "folder_"
)

// ErrUnknownSource is returned when a source key names nothing the engine
// knows how to fetch.
var ErrUnknownSource = errors.New("unknown source")

// Fetcher returns one page of a remote listing. Page indices start at 0.
type Fetcher func(ctx context.Context, page int) (chat.Page, error)

// Source describes one independently paginated remote listing.
type Source struct {
	Key          string
	Fetch        Fetcher
	MarkArchived bool
}

// Remote is the subset of the remote client the engine needs.
type Remote interface {
	Inbox(ctx context.Context, page int) (chat.Page, error)
	Folder(ctx context.Context, folderID string, page int) (chat.Page, error)
	Archive(ctx context.Context, page int) (chat.Page, error)
	ListFolders(ctx context.Context) ([]chat.Folder, error)
}

// InboxSource is the primary inbox.
func InboxSource(r Remote) Source {
	return Source{Key: InboxKey, Fetch: r.Inbox}
}

// FolderSource is one user-defined folder.
func FolderSource(r Remote, folderID string) Source {
	return Source{
		Key: FolderKey(folderID),
		Fetch: func(ctx context.Context, page int) (chat.Page, error) {
			return r.Folder(ctx, folderID, page)
		},
	}
}

// ArchiveSource lists archived chats. Everything it returns is stored as
// archived regardless of the payload.
func ArchiveSource(r Remote) Source {
	return Source{Key: ArchiveKey, Fetch: r.Archive, MarkArchived: true}
}

// FolderKey returns the source key for a folder id.
func FolderKey(folderID string) string {
	return folderPrefix + folderID
}

// SourceForKey resolves a source key back to a Source.
func SourceForKey(r Remote, key string) (Source, error) {
	switch {
	case key == InboxKey:
		return InboxSource(r), nil
	case key == ArchiveKey:
		return ArchiveSource(r), nil
	case strings.HasPrefix(key, folderPrefix) && len(key) > len(folderPrefix):
		return FolderSource(r, strings.TrimPrefix(key, folderPrefix)), nil
	}
	return Source{}, fmt.Errorf("%w: %q", ErrUnknownSource, key)
}
