package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/werkudaraevent-eng/actionplan-sub001/pkg/models"
)

// CommitJournal records, for one workflow, which parts of a commit already
// took effect in the system of record. Retries consult it so that only the
// unapplied subset is re-issued, and every call carries an idempotency key
// so the store can discard duplicates.
type CommitJournal struct {
	ID string

	mu      sync.Mutex
	applied map[string]models.Action
	counts  models.BatchCounts
	tickets map[string]string
	keys    map[string]string
}

// NewCommitJournal creates an empty journal with a fresh ID.
func NewCommitJournal() *CommitJournal {
	return &CommitJournal{
		ID:      uuid.NewString(),
		applied: make(map[string]models.Action),
		tickets: make(map[string]string),
		keys:    make(map[string]string),
	}
}

// RequestKey returns the stable idempotency key for the item's approval request.
func (j *CommitJournal) RequestKey(itemID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if k, ok := j.keys[itemID]; ok {
		return k
	}
	k := uuid.NewString()
	j.keys[itemID] = k
	return k
}

// BatchKey derives the idempotency key for a batch from its entries, so
// resending the same set after an ambiguous failure maps to the same key.
func (j *CommitJournal) BatchKey(entries []models.BatchResolution) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.WorkItemID + "=" + string(e.Action)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(j.ID + "|" + strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:16])
}

// PendingBatch filters out entries that were already applied.
func (j *CommitJournal) PendingBatch(entries []models.BatchResolution) []models.BatchResolution {
	j.mu.Lock()
	defer j.mu.Unlock()
	var pending []models.BatchResolution
	for _, e := range entries {
		if _, done := j.applied[e.WorkItemID]; !done {
			pending = append(pending, e)
		}
	}
	return pending
}

// PendingApprovals filters out requests that already have a ticket and
// stamps the remaining ones with their idempotency key.
func (j *CommitJournal) PendingApprovals(reqs []models.ApprovalRequest) []models.ApprovalRequest {
	var pending []models.ApprovalRequest
	for _, r := range reqs {
		if _, done := j.Ticket(r.WorkItemID); done {
			continue
		}
		r.RequestKey = j.RequestKey(r.WorkItemID)
		pending = append(pending, r)
	}
	return pending
}

// RecordBatch marks entries as applied and adds counts to the running total.
func (j *CommitJournal) RecordBatch(entries []models.BatchResolution, counts models.BatchCounts) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range entries {
		j.applied[e.WorkItemID] = e.Action
	}
	j.counts.CarriedOver += counts.CarriedOver
	j.counts.Dropped += counts.Dropped
}

// RecordTicket marks the item's approval request as created.
func (j *CommitJournal) RecordTicket(itemID, ticketID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tickets[itemID] = ticketID
}

// Ticket returns the ticket created for the item, if any.
func (j *CommitJournal) Ticket(itemID string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.tickets[itemID]
	return t, ok
}

// Counts returns the cumulative batch counts.
func (j *CommitJournal) Counts() models.BatchCounts {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts
}

// AppliedItems returns every item whose decision took effect, sorted.
func (j *CommitJournal) AppliedItems() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]string, 0, len(j.applied)+len(j.tickets))
	for id := range j.applied {
		ids = append(ids, id)
	}
	for id := range j.tickets {
		if _, dup := j.applied[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Empty reports whether nothing has taken effect yet.
func (j *CommitJournal) Empty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.applied) == 0 && len(j.tickets) == 0
}
