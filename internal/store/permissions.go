package store

import (
	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// Folder rights bits, the frights* mask values the handle layer's
// permission table names directly. These are ORed together to form one
// folder's effective rights for a principal.
const (
	RightReadAny uint32 = 1 << iota
	RightCreate
	RightCreateSubfolder
	RightFolderOwner
	RightFolderContact
	RightFolderVisible
	RightEditOwned
	RightDeleteOwned
	RightEditAny
	RightDeleteAny
	RightCreateAssociated
)

// RightsOwnerFull is the mask an owning logon effectively always has; the
// store owner bypasses ACL lookups entirely.
const RightsOwnerFull = RightReadAny | RightCreate | RightCreateSubfolder |
	RightFolderOwner | RightFolderContact | RightFolderVisible |
	RightEditOwned | RightDeleteOwned | RightEditAny | RightDeleteAny |
	RightCreateAssociated

// defaultMemberID and anonymousMemberID key the two non-user rows a
// folder's ACL may carry: a fallback applied to every authenticated
// principal, and one applied to anonymous/unauthenticated access.
const (
	defaultMemberID   int64 = 0
	anonymousMemberID int64 = -1
)

// wellKnownVisible lists the folders that grant frightsVisible by default
// even when no ACL row matches.
var wellKnownVisible = map[ident.EID]bool{
	FolderRoot:          true,
	FolderIPMSubtree:    true,
	FolderPublicFIDRoot: true,
}

// CheckFolderPermission computes userID's effective rights mask on folder.
// The store's owner (ownerID) always gets RightsOwnerFull without
// consulting the ACL table; everyone else's rights are the union of the
// folder's default-member row, its anonymous row (if userID < 0), and its
// user-specific row, falling back to RightFolderVisible on well-known
// folders when no row matches at all.
func (s *Store) CheckFolderPermission(folder ident.EID, userID int64, ownerID int64) (uint32, error) {
	if userID == ownerID {
		return RightsOwnerFull, nil
	}
	var rights uint32
	var anyRow bool
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		members := []int64{defaultMemberID, userID}
		if userID < 0 {
			members = append(members, anonymousMemberID)
		}
		for _, member := range members {
			r, ok, err := folderPermissionRowTx(conn, folder, member)
			if err != nil {
				return err
			}
			if ok {
				anyRow = true
				rights |= r
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !anyRow && wellKnownVisible[folder] {
		return RightFolderVisible, nil
	}
	return rights, nil
}

func folderPermissionRowTx(conn *sqlite.Conn, folder ident.EID, member int64) (uint32, bool, error) {
	stmt := conn.Prep(`SELECT rights FROM permissions WHERE folder_id = $fid AND member_id = $member;`)
	stmt.SetInt64("$fid", int64(folder))
	stmt.SetInt64("$member", member)
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, false, err
	}
	if !hasRow {
		stmt.Reset()
		return 0, false, nil
	}
	r := uint32(stmt.GetInt64("rights"))
	return r, true, stmt.Reset()
}

// UpdateFolderPermission sets (or, if rights == 0, removes) memberID's ACL
// row on folder, the update_folder_permission verb.
func (s *Store) UpdateFolderPermission(folder ident.EID, memberID int64, rights uint32) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		if rights == 0 {
			del := conn.Prep(`DELETE FROM permissions WHERE folder_id = $fid AND member_id = $member;`)
			del.SetInt64("$fid", int64(folder))
			del.SetInt64("$member", memberID)
			if _, err := del.Step(); err != nil {
				return err
			}
			return del.Reset()
		}
		ins := conn.Prep(`INSERT INTO permissions (folder_id, member_id, rights) VALUES ($fid, $member, $rights)
			ON CONFLICT(folder_id, member_id) DO UPDATE SET rights = excluded.rights;`)
		ins.SetInt64("$fid", int64(folder))
		ins.SetInt64("$member", memberID)
		ins.SetInt64("$rights", int64(rights))
		if _, err := ins.Step(); err != nil {
			return err
		}
		return ins.Reset()
	})
}

// EmptyFolderPermission drops every ACL row on folder, the
// empty_folder_permission verb.
func (s *Store) EmptyFolderPermission(folder ident.EID) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		del := conn.Prep(`DELETE FROM permissions WHERE folder_id = $fid;`)
		del.SetInt64("$fid", int64(folder))
		if _, err := del.Step(); err != nil {
			return err
		}
		return del.Reset()
	})
}

// GetMboxPerm returns the effective rights userID would get opening the
// mailbox at all, the get_mbox_perm verb frontends use before attempting a
// logon: RightsOwnerFull for the owner, RightFolderVisible|RightReadAny
// for anyone else, without consulting the ACL table.
func (s *Store) GetMboxPerm(userID, ownerID int64) uint32 {
	if userID == ownerID {
		return RightsOwnerFull
	}
	return RightFolderVisible | RightReadAny
}
