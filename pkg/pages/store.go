// Package pages holds the cursor-paginated message collection for one scope
// and the merge engine that keeps it consistent under concurrent arrival of
// optimistic sends, historical fetches and live updates.
//
// All operations are pure: they return a new PageStore and never mutate their
// input. Consumers holding an old snapshot keep seeing a complete, untorn
// view, and change detection is a pointer comparison away.
package pages

import (
	"sort"

	"github.com/gofrs/uuid"

	"github.com/chatmesh/chatsync.go/pkg/models"
)

var zeroUUID = uuid.Nil

// Page is one fetched page of records.
//
// Records are sorted descending by CreatedAt. Cursor is the opaque resume
// token for fetching the next older page; empty means pagination is
// exhausted. QueryTimestamp records when the page was fetched.
type Page struct {
	Records        []*models.MessageRecord
	Cursor         []byte
	QueryTimestamp int64
}

// PageStore is the ordered list of pages for one scope, newest first.
//
// Only page 0 accepts un-cursor-safe inserts (new arrivals); pages >= 1 are
// append-only products of historical fetches. No two records anywhere in the
// store share a ServerID or LocalID.
type PageStore struct {
	Pages []Page
}

// Len returns the total number of records across all pages.
func (s PageStore) Len() int {
	n := 0
	for i := range s.Pages {
		n += len(s.Pages[i].Records)
	}
	return n
}

// IsEmpty reports whether the store holds no pages at all.
func (s PageStore) IsEmpty() bool {
	return len(s.Pages) == 0
}

// AllRecords returns every record in page order, newest page first.
func (s PageStore) AllRecords() []*models.MessageRecord {
	out := make([]*models.MessageRecord, 0, s.Len())
	for i := range s.Pages {
		out = append(out, s.Pages[i].Records...)
	}
	return out
}

// HasFetchedPage reports whether any page came from a host fetch. A store
// holding only locally-inserted records has pages with a zero QueryTimestamp
// and no resume token.
func (s PageStore) HasFetchedPage() bool {
	for i := range s.Pages {
		if s.Pages[i].QueryTimestamp != 0 {
			return true
		}
	}
	return false
}

// OldestCursor returns the resume token for the next older page, and false
// when pagination is exhausted or nothing has been fetched yet.
func (s PageStore) OldestCursor() ([]byte, bool) {
	if len(s.Pages) == 0 {
		return nil, false
	}
	cursor := s.Pages[len(s.Pages)-1].Cursor
	if len(cursor) == 0 {
		return nil, false
	}
	return cursor, true
}

// Find locates a record matching ref in any page.
func (s PageStore) Find(ref models.RecordRef) (*models.MessageRecord, bool) {
	for i := range s.Pages {
		for _, rec := range s.Pages[i].Records {
			if ref.Matches(rec) {
				return rec, true
			}
		}
	}
	return nil, false
}

// containsIdentity reports whether any record in the store carries one of the
// given identifiers.
func (s PageStore) containsIdentity(serverID, localID uuid.UUID) bool {
	for i := range s.Pages {
		for _, rec := range s.Pages[i].Records {
			if serverID != uuid.Nil && rec.ServerID == serverID {
				return true
			}
			if localID != uuid.Nil && rec.LocalID == localID {
				return true
			}
		}
	}
	return false
}

// AppendPage appends a historical page fetched with the previous page's
// cursor. Records already present in pages 0..N are dropped: a server-side
// write racing the pagination can shift the cursor window and reintroduce
// rows the store already holds.
func AppendPage(s PageStore, records []*models.MessageRecord, cursor []byte, queryTimestamp int64) PageStore {
	kept := make([]*models.MessageRecord, 0, len(records))
	for _, rec := range records {
		if s.containsIdentity(rec.ServerID, rec.LocalID) {
			continue
		}
		kept = append(kept, rec.Clone())
	}
	sortPage(kept)

	out := clonePages(s)
	out.Pages = append(out.Pages, Page{
		Records:        kept,
		Cursor:         append([]byte(nil), cursor...),
		QueryTimestamp: queryTimestamp,
	})
	return out
}

// WithOldestCursor replaces the resume token and query timestamp on the
// store's oldest page. An initial fetch that merged into pages created by
// optimistic sends uses this to hand its cursor to the store, since those
// pages never carried one.
func WithOldestCursor(s PageStore, cursor []byte, queryTimestamp int64) PageStore {
	if len(s.Pages) == 0 {
		return s
	}
	out := clonePages(s)
	last := &out.Pages[len(out.Pages)-1]
	last.Cursor = append([]byte(nil), cursor...)
	last.QueryTimestamp = queryTimestamp
	return out
}

// sortPage sorts records descending by CreatedAt. The sort is stable, so
// records with colliding timestamps keep their insertion order.
func sortPage(records []*models.MessageRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt > records[j].CreatedAt
	})
}

// clonePages copies the page list and each page's record slice. The records
// themselves are shared until a merge operation replaces a slot, which always
// goes through MessageRecord.Clone first.
func clonePages(s PageStore) PageStore {
	if len(s.Pages) == 0 {
		return PageStore{}
	}
	pages := make([]Page, len(s.Pages))
	copy(pages, s.Pages)
	for i := range pages {
		records := make([]*models.MessageRecord, len(pages[i].Records))
		copy(records, pages[i].Records)
		pages[i].Records = records
	}
	return PageStore{Pages: pages}
}
