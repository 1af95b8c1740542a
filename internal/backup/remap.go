package backup

import (
	"github.com/google/uuid"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// Remap returns a copy of snap with every owner-scoped record reassigned to
// targetOwner. System categories pass through untouched.
//
// When the archive was produced by targetOwner the record ids are kept.
// Otherwise every user-owned id is replaced by a deterministic id derived
// from the target owner and the old id, and every reference is rewritten to
// match, so the restored data cannot collide with the source owner's rows.
// The second return value reports whether ids were regenerated.
func Remap(snap Snapshot, targetOwner string) (Snapshot, bool) {
	regenerate := snap.Metadata.OwnerID != targetOwner

	ids := make(map[string]string)
	newID := func(kind, old string) string {
		if old == "" || !regenerate {
			return old
		}
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(targetOwner+":"+kind+":"+old)).String()
		ids[kind+":"+old] = id
		return id
	}
	ref := func(kind, old string) string {
		if id, ok := ids[kind+":"+old]; ok {
			return id
		}
		return old
	}

	out := Snapshot{Metadata: snap.Metadata}
	out.Metadata.OwnerID = targetOwner

	// phase one: assign ids
	for _, c := range snap.Categories {
		if !c.IsSystem {
			newID("category", c.ID)
		}
	}
	for _, a := range snap.Accounts {
		newID("account", a.ID)
	}
	for _, b := range snap.ImportBatches {
		newID("batch", b.ID)
	}

	// phase two: copy records with owner and references rewritten
	out.Categories = make([]domain.Category, 0, len(snap.Categories))
	for _, c := range snap.Categories {
		if !c.IsSystem {
			c.ID = ref("category", c.ID)
			c.OwnerID = targetOwner
		}
		c.ParentID = ref("category", c.ParentID)
		out.Categories = append(out.Categories, c)
	}

	out.Accounts = make([]domain.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		a.ID = ref("account", a.ID)
		a.OwnerID = targetOwner
		out.Accounts = append(out.Accounts, a)
	}

	out.ImportBatches = make([]domain.ImportBatch, 0, len(snap.ImportBatches))
	for _, b := range snap.ImportBatches {
		b.ID = ref("batch", b.ID)
		b.OwnerID = targetOwner
		b.AccountID = ref("account", b.AccountID)
		out.ImportBatches = append(out.ImportBatches, b)
	}

	out.Rules = make([]domain.Rule, 0, len(snap.Rules))
	for _, r := range snap.Rules {
		r.ID = newID("rule", r.ID)
		r.OwnerID = targetOwner
		r.CategoryID = ref("category", r.CategoryID)
		r.AccountID = ref("account", r.AccountID)
		out.Rules = append(out.Rules, r)
	}

	out.Transactions = make([]domain.Transaction, 0, len(snap.Transactions))
	for _, t := range snap.Transactions {
		t.ID = newID("transaction", t.ID)
		t.OwnerID = targetOwner
		t.AccountID = ref("account", t.AccountID)
		t.ImportBatchID = ref("batch", t.ImportBatchID)
		t.CategoryID = ref("category", t.CategoryID)
		out.Transactions = append(out.Transactions, t)
	}

	return out, regenerate
}
