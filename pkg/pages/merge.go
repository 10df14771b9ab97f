package pages

import (
	"github.com/chatmesh/chatsync.go/pkg/models"
)

// Batch is a group of changes applied together during backlog reconciliation.
type Batch struct {
	Upserts    []*models.MessageRecord
	Tombstones []models.RecordRef
}

// ApplyUpsert merges one incoming record into the store and returns the new
// store.
//
// Identity resolution scans every page: a ServerID match wins over a LocalID
// match for any given pair of records. An unmatched record is genuinely new
// and is inserted into page 0 only, then page 0 is re-sorted: a delayed
// arrival may be older than messages already cached.
//
// A match in page 0 is replaced with the incoming record, merging forward the
// optimistic leftovers the server copy cannot know about: pending payload
// refs and their locally-generated preview thumbnails. Matches in older pages
// are replaced in place; historical pages never hold optimistic data.
func ApplyUpsert(s PageStore, incoming *models.MessageRecord) PageStore {
	pageIdx, recIdx, found := findIdentity(s, incoming)

	if !found {
		out := clonePages(s)
		if len(out.Pages) == 0 {
			out.Pages = []Page{{}}
		}
		out.Pages[0].Records = append(out.Pages[0].Records, incoming.Clone())
		sortPage(out.Pages[0].Records)
		return out
	}

	existing := s.Pages[pageIdx].Records[recIdx]
	merged := incoming.Clone()

	if existing.DeliveryStatus.Regresses(merged.DeliveryStatus) {
		// A stale duplicate must not revert a message that already
		// progressed past its status.
		merged.DeliveryStatus = existing.DeliveryStatus
		merged.State = existing.State
	}

	if pageIdx == 0 {
		mergeForwardPayloads(existing, merged)
	}

	out := clonePages(s)
	out.Pages[pageIdx].Records[recIdx] = merged
	if pageIdx == 0 {
		sortPage(out.Pages[0].Records)
	}
	return out
}

// ApplyTombstone removes every record matching ref, in any page. Any single
// identifier is sufficient: a federated delete can arrive keyed only by
// GlobalTransitID while the cached copy also carries a ServerID.
func ApplyTombstone(s PageStore, ref models.RecordRef) PageStore {
	out := clonePages(s)
	for i := range out.Pages {
		records := out.Pages[i].Records
		kept := records[:0:0]
		for _, rec := range records {
			if ref.Matches(rec) {
				continue
			}
			kept = append(kept, rec)
		}
		out.Pages[i].Records = kept
	}
	return out
}

// ApplyBatch applies a reconciliation batch. When the batch exceeds the page
// size or carries any tombstone, it reports invalidate=true and leaves the
// store untouched: the caller drops the scope and refetches cleanly instead
// of paying an unbounded merge and risking partial state under a large
// reconciliation burst.
func ApplyBatch(s PageStore, batch Batch, pageSize int) (PageStore, bool) {
	if len(batch.Tombstones) > 0 {
		return s, true
	}
	if pageSize > 0 && len(batch.Upserts) > pageSize {
		return s, true
	}

	out := s
	for _, rec := range batch.Upserts {
		out = ApplyUpsert(out, rec)
	}
	return out, false
}

// findIdentity locates the record matching incoming by identity precedence.
// A ServerID match anywhere in the store beats a LocalID match.
func findIdentity(s PageStore, incoming *models.MessageRecord) (pageIdx, recIdx int, found bool) {
	localPage, localRec, haveLocal := -1, -1, false

	for i := range s.Pages {
		for j, rec := range s.Pages[i].Records {
			if !rec.SameIdentity(incoming) {
				continue
			}
			// SameIdentity matched on ServerID iff both sides carry one.
			if rec.ServerID != zeroUUID && incoming.ServerID != zeroUUID {
				return i, j, true
			}
			if !haveLocal {
				localPage, localRec, haveLocal = i, j, true
			}
		}
	}

	if haveLocal {
		return localPage, localRec, true
	}
	return 0, 0, false
}

// mergeForwardPayloads carries optimistic payload state from the superseded
// record onto the confirming one. The server response for a message whose
// uploads are still in flight has no preview thumbnails and may omit pending
// refs entirely; dropping them would blank out the preview the UI is already
// showing.
func mergeForwardPayloads(existing, merged *models.MessageRecord) {
	for _, old := range existing.PayloadRefs {
		if !old.Pending {
			continue
		}

		idx := -1
		for i := range merged.PayloadRefs {
			if merged.PayloadRefs[i].Key == old.Key {
				idx = i
				break
			}
		}

		if idx == -1 {
			merged.PayloadRefs = append(merged.PayloadRefs, old)
			continue
		}
		if len(merged.PayloadRefs[idx].PreviewThumbnail) == 0 && len(old.PreviewThumbnail) > 0 {
			merged.PayloadRefs[idx].PreviewThumbnail = append([]byte(nil), old.PreviewThumbnail...)
		}
	}
}
