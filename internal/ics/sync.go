package ics

import (
	"gromox.run/internal/ident"
	"gromox.run/internal/store"
)

// ContentSyncResult is what get_content_sync returns to the ROP layer for
// shipping to the client.
type ContentSyncResult struct {
	Changes     []ident.EID // messages to re-send (new or modified)
	ChangesFAI  []ident.EID // associated-content messages to re-send
	Deletions   []ident.EID // ids present in Given but gone from the folder
	ReadChanges []ident.EID // messages whose read state changed since prior.Read
	NewState    *State
}

// GetContentSync computes the download flow against folder, given the
// client's prior state. Serialization of the resulting change
// list into a FastTransfer byte stream is left to the caller (internal/rop,
// which owns the fastdownctx/icsdownctx object and drives Producer).
func GetContentSync(s *store.Store, folder ident.EID, replica [16]byte, prior *State) (*ContentSyncResult, error) {
	msgs, err := s.ListMessagesForSync(folder)
	if err != nil {
		return nil, err
	}

	if prior == nil {
		prior = NewState(ModeContentsDown)
	}

	next := NewState(ModeContentsDown)
	if prior.Given != nil {
		next.Given = prior.Given.Clone()
	}

	res := &ContentSyncResult{NewState: next}

	for _, m := range msgs {
		if m.Deleted {
			continue
		}

		seenSet := prior.Seen
		if m.Associated {
			seenSet = prior.SeenFAI
		}
		alreadySeen := seenSet != nil && prior.Given != nil &&
			prior.Given.Contains(replica, m.ChangeNumber) &&
			seenSet.Contains(replica, m.ChangeNumber)

		if !alreadySeen {
			if m.Associated {
				res.ChangesFAI = append(res.ChangesFAI, m.ID)
				next.SeenFAI.AppendGC(replica, ident.GC(m.ChangeNumber))
			} else {
				res.Changes = append(res.Changes, m.ID)
				next.Seen.AppendGC(replica, ident.GC(m.ChangeNumber))
			}
		} else {
			if m.Associated {
				next.SeenFAI.AppendGC(replica, ident.GC(m.ChangeNumber))
			} else {
				next.Seen.AppendGC(replica, ident.GC(m.ChangeNumber))
			}
		}
		next.Given.AppendGC(replica, ident.GC(m.ChangeNumber))

		if prior.Read != nil {
			wasRead := prior.Read.Contains(replica, ident.GC(m.ChangeNumber))
			if wasRead != m.Read {
				res.ReadChanges = append(res.ReadChanges, m.ID)
			}
		}
		if m.Read {
			next.Read.AppendGC(replica, ident.GC(m.ChangeNumber))
		}
	}

	// Step 3: anything the client previously held (via Given) that the
	// folder no longer contains at all is a deletion, not merely an
	// unseen change.
	if prior.Given != nil {
		for _, m := range msgs {
			if m.Deleted && prior.Given.Contains(replica, m.ChangeNumber) {
				res.Deletions = append(res.Deletions, m.ID)
			}
		}
	}

	return res, nil
}

// GetHierarchySync implements the folder-hierarchy analogue: only
// existence/identity changes matter, not per-message content, so it walks
// child folders instead of messages.
func GetHierarchySync(s *store.Store, folder ident.EID, replica [16]byte, prior *State) (*ContentSyncResult, error) {
	children, err := s.ListChildFolders(folder)
	if err != nil {
		return nil, err
	}
	next := NewState(ModeHierarchyDown)
	if prior != nil && prior.Given != nil {
		next.Given = prior.Given.Clone()
	}
	res := &ContentSyncResult{NewState: next}
	for _, fid := range children {
		res.Changes = append(res.Changes, fid)
		next.Given.AppendGC(replica, ident.GC(fid))
		next.Seen.AppendGC(replica, ident.GC(fid))
	}
	return res, nil
}
