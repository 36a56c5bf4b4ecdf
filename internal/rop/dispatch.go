package rop

import (
	"fmt"
	"time"

	"gromox.run/internal/ec"
	"gromox.run/internal/exrpc"
	"gromox.run/internal/ics"
	"gromox.run/internal/ident"
	"gromox.run/internal/store"
)

// Dispatcher adapts a Session to exrpc.Dispatcher: Dispatch decodes one
// verb's payload, runs it against the session's store and handle table,
// and encodes the response. The verb subset implemented with real store
// logic is listed in DESIGN.md; everything else falls through to
// exrpc.ErrNotDispatched, which the server turns into RespDispatchError.
type Dispatcher struct {
	Session *Session
}

// NewDispatcher builds a Dispatcher bound to a freshly opened session.
func NewDispatcher(s *Session) *Dispatcher { return &Dispatcher{Session: s} }

func (d *Dispatcher) Dispatch(call exrpc.CallID, payload []byte) ([]byte, error) {
	s := d.Session
	r := newReader(payload)

	switch call {

	case exrpc.CallGetMboxPerm:
		rights := s.Logon.Store.GetMboxPerm(s.Logon.UserID, s.Logon.OwnerID)
		var w writer
		w.u32(rights)
		return w.b, nil

	case exrpc.CallCheckFolderPermission:
		parent, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(parent)
		if err != nil {
			return nil, err
		}
		rights, err := s.Logon.Store.CheckFolderPermission(folder, s.Logon.UserID, s.Logon.OwnerID)
		if err != nil {
			return nil, err
		}
		var w writer
		w.u32(rights)
		return w.b, nil

	case exrpc.CallUpdateFolderPermission:
		parent, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(parent)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightFolderOwner); err != nil {
			return nil, err
		}
		member, err := r.u64()
		if err != nil {
			return nil, err
		}
		rights, err := r.u32()
		if err != nil {
			return nil, err
		}
		if err := s.Logon.Store.UpdateFolderPermission(folder, int64(member), rights); err != nil {
			return nil, err
		}
		return nil, nil

	case exrpc.CallEmptyFolderPermission:
		parent, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(parent)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightFolderOwner); err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.EmptyFolderPermission(folder)

	case exrpc.CallCreateFolderByProperties, exrpc.CallCreateFolder:
		parent, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(parent)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightCreateSubfolder); err != nil {
			return nil, err
		}
		props, err := r.propList()
		if err != nil {
			return nil, err
		}
		name := findPropString(fromPropList(props), ident.PrDisplayName)
		newID, err := s.Logon.Store.CreateFolder(folder, name)
		if err != nil {
			return nil, err
		}
		h, err := s.openFolder(parent, newID)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(h)
		w.eid(newID)
		return w.b, nil

	case exrpc.CallGetFolderAllProptags:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		props, err := s.Logon.Store.GetFolderProperties(folder, nil)
		if err != nil {
			return nil, err
		}
		tags := make([]uint32, len(props))
		for i, p := range props {
			tags[i] = uint32(p.Tag)
		}
		return exrpc.EncodePropTagList(tags), nil

	case exrpc.CallGetFolderProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		props, err := s.Logon.Store.GetFolderProperties(folder, toIdentTags(tags))
		if err != nil {
			return nil, err
		}
		return exrpc.EncodePropList(toPropList(props)), nil

	case exrpc.CallSetFolderProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightEditAny); err != nil {
			return nil, err
		}
		props, err := r.propList()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetFolderProperties(folder, fromPropList(props))

	case exrpc.CallRemoveFolderProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightEditAny); err != nil {
			return nil, err
		}
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.RemoveFolderProperties(folder, toIdentTags(tags))

	case exrpc.CallDeleteFolder, exrpc.CallEmptyFolderV1:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightDeleteAny); err != nil {
			return nil, err
		}
		hard, err := r.bool()
		if err != nil {
			return nil, err
		}
		if call == exrpc.CallEmptyFolderV1 {
			recurse, err := r.bool()
			if err != nil {
				return nil, err
			}
			partial, err := s.Logon.Store.EmptyFolder(folder, recurse, hard)
			if err != nil {
				return nil, err
			}
			var w writer
			w.bool(partial)
			return w.b, nil
		}
		deleteContents, err := r.bool()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.DeleteFolder(folder, hard, deleteContents)

	case exrpc.CallEmptyFolder:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightDeleteAny); err != nil {
			return nil, err
		}
		recurse, err := r.bool()
		if err != nil {
			return nil, err
		}
		hard, err := r.bool()
		if err != nil {
			return nil, err
		}
		partial, err := s.Logon.Store.EmptyFolder(folder, recurse, hard)
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(partial)
		return w.b, nil

	case exrpc.CallCheckFolderCycle:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		candidate, err := r.eid()
		if err != nil {
			return nil, err
		}
		cyclic, err := s.Logon.Store.CheckFolderCycle(folder, candidate)
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(cyclic)
		return w.b, nil

	case exrpc.CallCopyFolderInternal:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		destH, err := r.handle()
		if err != nil {
			return nil, err
		}
		dest, err := s.folder(destH)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(dest, store.RightCreateSubfolder); err != nil {
			return nil, err
		}
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		newID, err := s.Logon.Store.CopyFolderInternal(folder, dest, name)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(newID)
		return w.b, nil

	case exrpc.CallSetSearchCriteria:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightFolderOwner); err != nil {
			return nil, err
		}
		criteria, err := decodeSearchCriteria(r)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetSearchCriteria(folder, criteria)

	case exrpc.CallGetSearchCriteria:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		criteria, err := s.Logon.Store.GetSearchCriteria(folder)
		if err != nil {
			return nil, err
		}
		return encodeSearchCriteria(criteria), nil

	case exrpc.CallMovecopyFolderV1, exrpc.CallMovecopyFolder:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		destH, err := r.handle()
		if err != nil {
			return nil, err
		}
		dest, err := s.folder(destH)
		if err != nil {
			return nil, err
		}
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		isCopy, err := r.bool()
		if err != nil {
			return nil, err
		}
		if isCopy {
			if err := s.requireRights(dest, store.RightCreateSubfolder); err != nil {
				return nil, err
			}
		} else {
			if err := s.requireRights(folder, store.RightDeleteAny); err != nil {
				return nil, err
			}
		}
		newID, err := s.Logon.Store.MovecopyFolder(folder, dest, name, isCopy)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(newID)
		return w.b, nil

	case exrpc.CallMovecopyMessage:
		srcH, err := r.handle()
		if err != nil {
			return nil, err
		}
		src, err := s.folder(srcH)
		if err != nil {
			return nil, err
		}
		destH, err := r.handle()
		if err != nil {
			return nil, err
		}
		dest, err := s.folder(destH)
		if err != nil {
			return nil, err
		}
		message, err := r.eid()
		if err != nil {
			return nil, err
		}
		isCopy, err := r.bool()
		if err != nil {
			return nil, err
		}
		newID, err := s.Logon.Store.MovecopyMessage(src, dest, message, isCopy)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(newID)
		return w.b, nil

	case exrpc.CallMovecopyMessages:
		srcH, err := r.handle()
		if err != nil {
			return nil, err
		}
		src, err := s.folder(srcH)
		if err != nil {
			return nil, err
		}
		destH, err := r.handle()
		if err != nil {
			return nil, err
		}
		dest, err := s.folder(destH)
		if err != nil {
			return nil, err
		}
		isCopy, err := r.bool()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		ids := make([]ident.EID, n)
		for i := range ids {
			ids[i], err = r.eid()
			if err != nil {
				return nil, err
			}
		}
		newIDs, failed, err := s.Logon.Store.MovecopyMessages(src, dest, ids, isCopy)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eids(newIDs)
		w.eids(failed)
		return w.b, nil

	case exrpc.CallDeleteMessages:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightDeleteAny); err != nil {
			return nil, err
		}
		hard, err := r.bool()
		if err != nil {
			return nil, err
		}
		n, err := r.u32()
		if err != nil {
			return nil, err
		}
		ids := make([]ident.EID, n)
		for i := range ids {
			ids[i], err = r.eid()
			if err != nil {
				return nil, err
			}
		}
		failed, err := s.Logon.Store.DeleteMessages(folder, ids, hard)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eids(failed)
		return w.b, nil

	case exrpc.CallAllocateMessageID:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		id, err := s.Logon.Store.AllocateMessageID(folder)
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(id)
		return w.b, nil

	case exrpc.CallGetMessageProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		message, err := s.message(h)
		if err != nil {
			return nil, err
		}
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		props, err := s.Logon.Store.GetMessageProperties(message, toIdentTags(tags))
		if err != nil {
			return nil, err
		}
		return exrpc.EncodePropList(toPropList(props)), nil

	case exrpc.CallSetMessageProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		message, err := s.message(h)
		if err != nil {
			return nil, err
		}
		props, err := r.propList()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetMessageProperties(message, fromPropList(props))

	case exrpc.CallSetMessageReadState:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		message, err := s.message(h)
		if err != nil {
			return nil, err
		}
		read, err := r.bool()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetMessageReadState(message, read)

	case exrpc.CallGetMessageRcpts:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		message, err := s.message(h)
		if err != nil {
			return nil, err
		}
		rcpts, err := s.Logon.Store.GetMessageRcpts(message)
		if err != nil {
			return nil, err
		}
		var w writer
		w.u32(uint32(len(rcpts)))
		for _, props := range rcpts {
			w.bytes(exrpc.EncodePropList(toPropList(props)))
		}
		return w.b, nil

	case exrpc.CallSumHierarchy:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		recursive, err := r.bool()
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadHierarchyTable(folder, recursive)
		if err != nil {
			return nil, err
		}
		n, err := s.Logon.Store.SumTable(tid)
		s.Logon.Store.UnloadTable(tid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(n)
		return w.b, nil

	case exrpc.CallSumContent:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		associated, err := r.bool()
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadContentTable(folder, associated)
		if err != nil {
			return nil, err
		}
		n, err := s.Logon.Store.SumTable(tid)
		s.Logon.Store.UnloadTable(tid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(n)
		return w.b, nil

	case exrpc.CallLoadHierarchyTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		recursive, err := r.bool()
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadHierarchyTable(folder, recursive)
		if err != nil {
			return nil, err
		}
		th, err := s.openTable(h, tid, store.TableHierarchy)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(th)
		return w.b, nil

	case exrpc.CallLoadContentTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		associated, err := r.bool()
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadContentTable(folder, associated)
		if err != nil {
			return nil, err
		}
		th, err := s.openTable(h, tid, store.TableContent)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(th)
		return w.b, nil

	case exrpc.CallLoadPermissionTable, exrpc.CallLoadPermTableV1:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadPermissionTable(folder)
		if err != nil {
			return nil, err
		}
		th, err := s.openTable(h, tid, store.TablePermission)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(th)
		return w.b, nil

	case exrpc.CallLoadRuleTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		tid, err := s.Logon.Store.LoadRuleTable(folder)
		if err != nil {
			return nil, err
		}
		th, err := s.openTable(h, tid, store.TableRule)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(th)
		return w.b, nil

	case exrpc.CallUnloadTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		s.Handles.Close(h)
		return nil, nil

	case exrpc.CallSumTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		n, err := s.Logon.Store.SumTable(tid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(n)
		return w.b, nil

	case exrpc.CallQueryTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		start, err := r.i32()
		if err != nil {
			return nil, err
		}
		count, err := r.i32()
		if err != nil {
			return nil, err
		}
		rows, err := s.Logon.Store.QueryTable(tid, start, count)
		if err != nil {
			return nil, err
		}
		var w writer
		w.u32(uint32(len(rows)))
		for _, v := range rows {
			w.u64(uint64(v))
		}
		return w.b, nil

	case exrpc.CallMatchTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		target, err := r.u64()
		if err != nil {
			return nil, err
		}
		idx, err := s.Logon.Store.MatchTable(tid, int64(target))
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(idx)
		return w.b, nil

	case exrpc.CallLocateTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		mark, err := r.i32()
		if err != nil {
			return nil, err
		}
		idx, err := s.Logon.Store.LocateTable(tid, mark)
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(idx)
		return w.b, nil

	case exrpc.CallReadTableRow:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		idx, err := r.i32()
		if err != nil {
			return nil, err
		}
		v, err := s.Logon.Store.ReadTableRow(tid, idx)
		if err != nil {
			return nil, err
		}
		var w writer
		w.u64(uint64(v))
		return w.b, nil

	case exrpc.CallMarkTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		mark, err := s.Logon.Store.MarkTable(tid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.i32(mark)
		return w.b, nil

	case exrpc.CallGetTableAllProptags:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		tags, err := s.Logon.Store.GetTableAllProptags(tid)
		if err != nil {
			return nil, err
		}
		out := make([]uint32, len(tags))
		for i, t := range tags {
			out[i] = uint32(t)
		}
		return exrpc.EncodePropTagList(out), nil

	case exrpc.CallExpandTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		folder, err := r.eid()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ExpandTable(tid, folder)

	case exrpc.CallCollapseTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		folder, err := r.eid()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.CollapseTable(tid, folder)

	case exrpc.CallStoreTableState:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		st, err := s.Logon.Store.StoreTableState(tid)
		if err != nil {
			return nil, err
		}
		return encodeTableState(st), nil

	case exrpc.CallRestoreTableState:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		st, err := decodeTableState(r)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.RestoreTableState(tid, st)

	case exrpc.CallReloadContentTable:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		tid, err := s.table(h)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ReloadContentTable(tid)

	case exrpc.CallLoadMessageInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		message, err := r.eid()
		if err != nil {
			return nil, err
		}
		iid, err := s.Logon.Store.LoadMessageInstance(folder, message)
		if err != nil {
			return nil, err
		}
		ih, err := s.openInstance(h, iid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(ih)
		return w.b, nil

	case exrpc.CallReloadMessageInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ReloadMessageInstance(iid)

	case exrpc.CallClearMessageInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ClearMessageInstance(iid)

	case exrpc.CallGetInstanceProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		props, err := s.Logon.Store.GetInstanceProperties(iid, toIdentTags(tags))
		if err != nil {
			return nil, err
		}
		return exrpc.EncodePropList(toPropList(props)), nil

	case exrpc.CallSetInstanceProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		props, err := r.propList()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetInstanceProperties(iid, fromPropList(props))

	case exrpc.CallRemoveInstanceProperties:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.RemoveInstanceProperties(iid, toIdentTags(tags))

	case exrpc.CallCheckInstanceCycle:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		candidate, err := r.eid()
		if err != nil {
			return nil, err
		}
		cyclic, err := s.Logon.Store.CheckInstanceCycle(iid, candidate)
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(cyclic)
		return w.b, nil

	case exrpc.CallUnloadInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		s.Handles.Close(h)
		return nil, nil

	case exrpc.CallFlushInstanceV1, exrpc.CallFlushInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		failOnConflict, err := r.bool()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.FlushInstance(iid, failOnConflict)

	case exrpc.CallCreateAttachmentInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		parentInstance, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		attachNum, err := r.i32()
		if err != nil {
			return nil, err
		}
		iid, err := s.Logon.Store.CreateAttachmentInstance(parentInstance, attachNum)
		if err != nil {
			return nil, err
		}
		ih, err := s.openInstance(h, iid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(ih)
		return w.b, nil

	case exrpc.CallLoadAttachmentInstance:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		message, err := s.message(h)
		if err != nil {
			return nil, err
		}
		attachNum, err := r.i32()
		if err != nil {
			return nil, err
		}
		iid, err := s.Logon.Store.LoadAttachmentInstance(message, attachNum)
		if err != nil {
			return nil, err
		}
		ih, err := s.openInstance(h, iid)
		if err != nil {
			return nil, err
		}
		var w writer
		w.handle(ih)
		return w.b, nil

	case exrpc.CallDeleteMessageInstanceAttachment:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		iid, err := s.instance(h)
		if err != nil {
			return nil, err
		}
		attachNum, err := r.i32()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.DeleteMessageInstanceAttachment(iid, attachNum)

	case exrpc.CallGetAllNamedPropids:
		ids, err := s.Logon.Store.GetAllNamedPropIDs()
		if err != nil {
			return nil, err
		}
		out := make([]uint32, len(ids))
		for i, id := range ids {
			out[i] = uint32(id)
		}
		return exrpc.EncodePropTagList(out), nil

	case exrpc.CallGetNamedPropids:
		keys, err := decodeNamedPropKeys(r)
		if err != nil {
			return nil, err
		}
		ids, err := s.Logon.Store.GetNamedPropIDs(keys)
		if err != nil {
			return nil, err
		}
		return encodePropIDs(ids), nil

	case exrpc.CallGetNamedPropnames:
		ids, err := decodePropIDs(r)
		if err != nil {
			return nil, err
		}
		keys, err := s.Logon.Store.GetNamedPropNames(ids)
		if err != nil {
			return nil, err
		}
		var w writer
		encodeNamedPropKeys(&w, keys)
		return w.b, nil

	case exrpc.CallUpdateFolderRule:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightFolderOwner); err != nil {
			return nil, err
		}
		rules, err := decodeRules(r)
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.UpdateFolderRule(folder, rules)

	case exrpc.CallEmptyFolderRule:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		if err := s.requireRights(folder, store.RightFolderOwner); err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.EmptyFolderRule(folder)

	case exrpc.CallGetContentSync:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		prior, err := decodeOptionalState(r)
		if err != nil {
			return nil, err
		}
		res, err := ics.GetContentSync(s.Logon.Store, folder, s.Logon.Store.ReplicaGUID, prior)
		if err != nil {
			return nil, err
		}
		return encodeContentSyncResult(res)

	case exrpc.CallGetHierarchySync:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		prior, err := decodeOptionalState(r)
		if err != nil {
			return nil, err
		}
		res, err := ics.GetHierarchySync(s.Logon.Store, folder, s.Logon.Store.ReplicaGUID, prior)
		if err != nil {
			return nil, err
		}
		return encodeContentSyncResult(res)

	case exrpc.CallVacuum:
		report, err := s.Logon.Store.Vacuum()
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(report.IntegrityOK)
		w.u32(uint32(report.OrphanedBlobs))
		w.u32(uint32(report.DanglingRefs))
		return w.b, nil

	case exrpc.CallPurgeSoftdelete:
		return nil, s.Logon.Store.PurgeSoftDeleted()

	case exrpc.CallPurgeDatafiles:
		report, err := s.Logon.Store.PurgeDatafiles()
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(report.IntegrityOK)
		return w.b, nil

	case exrpc.CallPingStore:
		return nil, nil

	case exrpc.CallAllocateCn:
		cn, err := s.Logon.Store.AllocateCN()
		if err != nil {
			return nil, err
		}
		var w writer
		w.u64(uint64(cn))
		return w.b, nil

	case exrpc.CallAllocateIDS:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		first, err := s.Logon.Store.AllocateIDs(int(count))
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(first)
		return w.b, nil

	case exrpc.CallGetStoreProperties:
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		props, err := s.Logon.Store.GetStoreProperties(toIdentTags(tags))
		if err != nil {
			return nil, err
		}
		return exrpc.EncodePropList(toPropList(props)), nil

	case exrpc.CallSetStoreProperties:
		props, err := r.propList()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetStoreProperties(fromPropList(props))

	case exrpc.CallRemoveStoreProperties:
		tags, err := r.propTags()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.RemoveStoreProperties(toIdentTags(tags))

	case exrpc.CallRecalcStoreSize:
		total, err := s.Logon.Store.RecalcStoreSize()
		if err != nil {
			return nil, err
		}
		var w writer
		w.u64(uint64(total))
		return w.b, nil

	case exrpc.CallCheckContactAddress:
		address, err := r.cstring()
		if err != nil {
			return nil, err
		}
		found, err := s.Logon.Store.CheckContactAddress(address)
		if err != nil {
			return nil, err
		}
		var w writer
		w.bool(found)
		return w.b, nil

	case exrpc.CallGetPublicFolderUnreadCount:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		count, err := s.Logon.Store.GetPublicFolderUnreadCount(folder)
		if err != nil {
			return nil, err
		}
		var w writer
		w.u64(uint64(count))
		return w.b, nil

	case exrpc.CallAutoreplyTsquery:
		t, err := s.Logon.Store.AutoreplyTimestamp()
		if err != nil {
			return nil, err
		}
		var w writer
		w.u64(uint64(t.Unix()))
		return w.b, nil

	case exrpc.CallAutoreplyTsupdate:
		ts, err := r.u64()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.SetAutoreplyTimestamp(time.Unix(int64(ts), 0).UTC())

	case exrpc.CallImapfileRead:
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		data, err := s.Logon.Store.ImapfileRead(name)
		if err != nil {
			return nil, err
		}
		var w writer
		w.bytes(data)
		return w.b, nil

	case exrpc.CallImapfileWrite:
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ImapfileWrite(name, r.remaining())

	case exrpc.CallImapfileDelete:
		name, err := r.cstring()
		if err != nil {
			return nil, err
		}
		return nil, s.Logon.Store.ImapfileDelete(name)

	case exrpc.CallCgkreset:
		guid, err := s.Logon.Store.ResetChangeGUID()
		if err != nil {
			return nil, err
		}
		var w writer
		w.bytes(guid[:])
		return w.b, nil

	case exrpc.CallDeliverMessage, exrpc.CallDeliverMessageV1:
		h, err := r.handle()
		if err != nil {
			return nil, err
		}
		folder, err := s.folder(h)
		if err != nil {
			return nil, err
		}
		id, err := s.Logon.Store.DeliverMessage(s.Logon.Store.Filer, folder, r.remaining())
		if err != nil {
			return nil, err
		}
		var w writer
		w.eid(id)
		return w.b, nil

	case exrpc.CallSubscribeNotification:
		folder, err := r.eid()
		if err != nil {
			return nil, err
		}
		message, err := r.eid()
		if err != nil {
			return nil, err
		}
		cookie, _ := s.Logon.Store.Subscribe(folder, message)
		s.trackSubscription(cookie)
		var w writer
		w.u32(cookie)
		return w.b, nil

	case exrpc.CallUnsubscribeNotification:
		cookie, err := r.u32()
		if err != nil {
			return nil, err
		}
		s.Logon.Store.Unsubscribe(cookie)
		s.untrackSubscription(cookie)
		return nil, nil

	default:
		return nil, exrpc.ErrNotDispatched
	}
}

func findPropString(props []store.Property, tag ident.PropTag) string {
	for _, p := range props {
		if p.Tag == tag {
			return string(p.Value)
		}
	}
	return ""
}

func encodeTableState(st store.TableState) []byte {
	var w writer
	w.i32(st.Position)
	w.u32(uint32(len(st.Marks)))
	for mark, idx := range st.Marks {
		w.i32(mark)
		w.i32(idx)
	}
	return w.b
}

func decodeTableState(r *reader) (store.TableState, error) {
	pos, err := r.i32()
	if err != nil {
		return store.TableState{}, err
	}
	n, err := r.u32()
	if err != nil {
		return store.TableState{}, err
	}
	marks := make(map[int32]int32, n)
	for i := uint32(0); i < n; i++ {
		mark, err := r.i32()
		if err != nil {
			return store.TableState{}, err
		}
		idx, err := r.i32()
		if err != nil {
			return store.TableState{}, err
		}
		marks[mark] = idx
	}
	return store.TableState{Position: pos, Marks: marks}, nil
}

func decodeOptionalState(r *reader) (*ics.State, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if len(r.b) < int(n) {
		return nil, fmt.Errorf("rop: truncated sync state")
	}
	buf := r.b[:n]
	r.b = r.b[n:]
	return ics.DeserializeState(buf)
}

func encodeContentSyncResult(res *ics.ContentSyncResult) ([]byte, error) {
	var w writer
	w.eids(res.Changes)
	w.eids(res.ChangesFAI)
	w.eids(res.Deletions)
	w.eids(res.ReadChanges)
	enc, err := res.NewState.Serialize()
	if err != nil {
		return nil, ec.Wrap("rop.encodeContentSyncResult", ec.GeneralError, err)
	}
	w.u32(uint32(len(enc)))
	w.bytes(enc)
	return w.b, nil
}
