package store

import (
	"sync"
	"sync/atomic"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ec"
	"gromox.run/internal/ident"
)

// TableKind distinguishes the four table views the ROP layer opens over a
// store, each realized here as a materialized row-id snapshot rather than
// a live cursor, since exmdb tables are snapshot-consistent until the next
// reload.
type TableKind uint8

const (
	TableHierarchy TableKind = iota
	TableContent
	TablePermission
	TableRule
)

// tableRow is one row of a materialized table: for hierarchy/content
// tables ID is a folder or message id; for permission/rule tables it is
// the member or rule id.
type tableRow struct {
	ID    int64
	depth int32 // hierarchy tables only, 0 for a direct child
}

// Table is a materialized, positioned view over a folder's children,
// contents, permissions, or rules. Bookmarks let a client resume a walk
// after expand/collapse without re-running the underlying query.
type Table struct {
	ID       uint32
	Kind     TableKind
	Folder   ident.EID
	mu       sync.Mutex
	rows     []tableRow
	position int32
	marks    map[int32]int32 // bookmark -> row index
	nextMark int32
}

type tableRegistry struct {
	next atomic.Uint32
	mu   sync.Mutex
	byID map[uint32]*Table
}

func newTableRegistry() *tableRegistry {
	return &tableRegistry{byID: make(map[uint32]*Table)}
}

func (r *tableRegistry) add(t *Table) uint32 {
	id := uint32(r.next.Add(1))
	t.ID = id
	r.mu.Lock()
	r.byID[id] = t
	r.mu.Unlock()
	return id
}

func (r *tableRegistry) get(id uint32) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	return t, ok
}

func (r *tableRegistry) remove(id uint32) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

// LoadHierarchyTable materializes folder's immediate (or, if recursive,
// all descendant) child folders as a table, the load_hierarchy_table verb.
func (s *Store) LoadHierarchyTable(folder ident.EID, recursive bool) (uint32, error) {
	t := &Table{Kind: TableHierarchy, Folder: folder, marks: make(map[int32]int32)}
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		if recursive {
			return collectHierarchyTx(conn, folder, 0, &t.rows)
		}
		children, err := s.listChildFoldersTx(conn, folder)
		if err != nil {
			return err
		}
		for _, c := range children {
			t.rows = append(t.rows, tableRow{ID: int64(c)})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.tables.add(t), nil
}

func collectHierarchyTx(conn *sqlite.Conn, folder ident.EID, depth int32, out *[]tableRow) error {
	stmt := conn.Prep(`SELECT folder_id FROM folders WHERE parent_id = $fid AND is_deleted = 0 ORDER BY folder_id;`)
	stmt.SetInt64("$fid", int64(folder))
	var children []ident.EID
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			break
		}
		children = append(children, ident.EID(stmt.GetInt64("folder_id")))
	}
	if err := stmt.Reset(); err != nil {
		return err
	}
	for _, c := range children {
		*out = append(*out, tableRow{ID: int64(c), depth: depth})
		if err := collectHierarchyTx(conn, c, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// LoadContentTable materializes folder's message rows, restricted to the
// associated (FAI) set when associated is true, the load_content_table
// verb. Search folders read their membership from search_result instead
// of the messages table.
func (s *Store) LoadContentTable(folder ident.EID, associated bool) (uint32, error) {
	t := &Table{Kind: TableContent, Folder: folder, marks: make(map[int32]int32)}
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		isSearch, err := folderIsSearchTx(conn, folder)
		if err != nil {
			return err
		}
		if isSearch {
			stmt := conn.Prep(`SELECT message_id FROM search_result WHERE folder_id = $fid ORDER BY message_id;`)
			stmt.SetInt64("$fid", int64(folder))
			for {
				hasRow, err := stmt.Step()
				if err != nil {
					return err
				}
				if !hasRow {
					break
				}
				t.rows = append(t.rows, tableRow{ID: stmt.GetInt64("message_id")})
			}
			return stmt.Reset()
		}
		stmt := conn.Prep(`SELECT message_id FROM messages
			WHERE parent_fid = $fid AND is_deleted = 0 AND is_associated = $assoc
			ORDER BY message_id;`)
		stmt.SetInt64("$fid", int64(folder))
		stmt.SetInt64("$assoc", boolInt(associated))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			t.rows = append(t.rows, tableRow{ID: stmt.GetInt64("message_id")})
		}
		return stmt.Reset()
	})
	if err != nil {
		return 0, err
	}
	return s.tables.add(t), nil
}

func folderIsSearchTx(conn *sqlite.Conn, folder ident.EID) (bool, error) {
	stmt := conn.Prep(`SELECT is_search FROM folders WHERE folder_id = $fid;`)
	stmt.SetInt64("$fid", int64(folder))
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	isSearch := hasRow && stmt.GetInt64("is_search") != 0
	return isSearch, stmt.Reset()
}

// LoadPermissionTable materializes folder's ACL rows, the
// load_permission_table verb.
func (s *Store) LoadPermissionTable(folder ident.EID) (uint32, error) {
	t := &Table{Kind: TablePermission, Folder: folder, marks: make(map[int32]int32)}
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT member_id FROM permissions WHERE folder_id = $fid ORDER BY member_id;`)
		stmt.SetInt64("$fid", int64(folder))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			t.rows = append(t.rows, tableRow{ID: stmt.GetInt64("member_id")})
		}
		return stmt.Reset()
	})
	if err != nil {
		return 0, err
	}
	return s.tables.add(t), nil
}

// LoadRuleTable materializes folder's rule rows in seq order, the
// load_rule_table verb.
func (s *Store) LoadRuleTable(folder ident.EID) (uint32, error) {
	t := &Table{Kind: TableRule, Folder: folder, marks: make(map[int32]int32)}
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT rule_id FROM rules WHERE folder_id = $fid ORDER BY seq;`)
		stmt.SetInt64("$fid", int64(folder))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			t.rows = append(t.rows, tableRow{ID: stmt.GetInt64("rule_id")})
		}
		return stmt.Reset()
	})
	if err != nil {
		return 0, err
	}
	return s.tables.add(t), nil
}

// UnloadTable discards a table handle, the unload_table verb.
func (s *Store) UnloadTable(id uint32) {
	s.tables.remove(id)
}

// SumHierarchy, SumContent, and SumTable all answer the get_table_count
// family of verbs uniformly: the row count of an already loaded table.
func (s *Store) SumTable(id uint32) (int32, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return 0, ec.New("store.SumTable", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return int32(len(t.rows)), nil
}

// QueryTable reads up to count rows starting at start (or, if start < 0,
// continuing from the table's current position), the query_table verb.
// It returns raw row identifiers; callers resolve properties themselves
// via GetFolderProperties/GetMessageProperties.
func (s *Store) QueryTable(id uint32, start, count int32) ([]int64, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return nil, ec.New("store.QueryTable", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := start
	if pos < 0 {
		pos = t.position
	}
	if pos < 0 || int(pos) > len(t.rows) {
		return nil, ec.New("store.QueryTable", ec.InvalidParam)
	}
	end := int(pos) + int(count)
	if end > len(t.rows) {
		end = len(t.rows)
	}
	out := make([]int64, 0, end-int(pos))
	for _, r := range t.rows[pos:end] {
		out = append(out, r.ID)
	}
	t.position = int32(end)
	return out, nil
}

// ReadTableRow returns the single row at index, the read_table_row verb
// (used after LocateTable / MatchTable finds a target position).
func (s *Store) ReadTableRow(id uint32, index int32) (int64, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return 0, ec.New("store.ReadTableRow", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || int(index) >= len(t.rows) {
		return 0, ec.New("store.ReadTableRow", ec.NotFound)
	}
	return t.rows[index].ID, nil
}

// MatchTable scans the table for the first row whose id equals target,
// the match_table verb (used for the common "find this message/folder in
// the table" pattern rather than a restriction match).
func (s *Store) MatchTable(id uint32, target int64) (int32, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return -1, ec.New("store.MatchTable", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if r.ID == target {
			return int32(i), nil
		}
	}
	return -1, nil
}

// LocateTable is MatchTable's bookmark-based sibling: it resolves a
// previously created bookmark back to a row index, the locate_table verb.
func (s *Store) LocateTable(id uint32, bookmark int32) (int32, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return -1, ec.New("store.LocateTable", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.marks[bookmark]
	if !ok {
		return -1, ec.New("store.LocateTable", ec.NotFound)
	}
	return idx, nil
}

// MarkTable creates a bookmark at the table's current position, returning
// a handle LocateTable can later resolve.
func (s *Store) MarkTable(id uint32) (int32, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return 0, ec.New("store.MarkTable", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextMark++
	t.marks[t.nextMark] = t.position
	return t.nextMark, nil
}

// GetTableAllProptags lists the superset of proptags present on any row
// of a content or hierarchy table, so a client can size its column set
// before calling QueryTable, the get_table_all_proptags verb.
func (s *Store) GetTableAllProptags(id uint32) ([]ident.PropTag, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return nil, ec.New("store.GetTableAllProptags", ec.NotFound)
	}
	var propsTable string
	switch t.Kind {
	case TableHierarchy:
		propsTable = "folder_properties"
	case TableContent:
		propsTable = "message_properties"
	default:
		return nil, nil
	}
	seen := map[ident.PropTag]bool{}
	var out []ident.PropTag
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT DISTINCT proptag FROM ` + propsTable + `;`)
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			tag := ident.PropTag(stmt.GetInt64("proptag"))
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
		return stmt.Reset()
	})
	return out, err
}

// ExpandTable and CollapseTable toggle a hierarchy-table row's children
// in or out of the materialized row set, the expand_table/collapse_table
// verbs. Since LoadHierarchyTable(recursive=true) already flattens the
// whole subtree, collapsing removes every row whose depth places it under
// folder until the next sibling at the same depth, and expanding
// re-inserts them from a fresh recursive query.
func (s *Store) ExpandTable(id uint32, folder ident.EID) error {
	t, ok := s.tables.get(id)
	if !ok {
		return ec.New("store.ExpandTable", ec.NotFound)
	}
	if t.Kind != TableHierarchy {
		return ec.New("store.ExpandTable", ec.NotSupported)
	}
	var children []tableRow
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		return collectHierarchyTx(conn, folder, 0, &children)
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if r.ID == int64(folder) {
			for j := range children {
				children[j].depth += r.depth + 1
			}
			rest := append([]tableRow{}, t.rows[i+1:]...)
			t.rows = append(t.rows[:i+1], append(children, rest...)...)
			return nil
		}
	}
	return ec.New("store.ExpandTable", ec.NotFound)
}

// CollapseTable removes folder's already-expanded descendant rows.
func (s *Store) CollapseTable(id uint32, folder ident.EID) error {
	t, ok := s.tables.get(id)
	if !ok {
		return ec.New("store.CollapseTable", ec.NotFound)
	}
	if t.Kind != TableHierarchy {
		return ec.New("store.CollapseTable", ec.NotSupported)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.rows {
		if r.ID != int64(folder) {
			continue
		}
		depth := r.depth
		end := i + 1
		for end < len(t.rows) && t.rows[end].depth > depth {
			end++
		}
		t.rows = append(t.rows[:i+1], t.rows[end:]...)
		return nil
	}
	return ec.New("store.CollapseTable", ec.NotFound)
}

// TableState is the serializable snapshot StoreTableState/RestoreTableState
// exchange so a client can detach from and later resume a table view
// across reconnects without losing its bookmarks.
type TableState struct {
	Position int32
	Marks    map[int32]int32
}

// StoreTableState captures id's position and bookmarks.
func (s *Store) StoreTableState(id uint32) (TableState, error) {
	t, ok := s.tables.get(id)
	if !ok {
		return TableState{}, ec.New("store.StoreTableState", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	marks := make(map[int32]int32, len(t.marks))
	for k, v := range t.marks {
		marks[k] = v
	}
	return TableState{Position: t.position, Marks: marks}, nil
}

// RestoreTableState applies a previously captured state to id.
func (s *Store) RestoreTableState(id uint32, st TableState) error {
	t, ok := s.tables.get(id)
	if !ok {
		return ec.New("store.RestoreTableState", ec.NotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = st.Position
	t.marks = make(map[int32]int32, len(st.Marks))
	for k, v := range st.Marks {
		t.marks[k] = v
	}
	return nil
}

// ReloadContentTable re-runs the content query backing id, keeping its
// position but dropping stale bookmarks, the reload_content_table verb
// clients call after a NeedsReset notification.
func (s *Store) ReloadContentTable(id uint32) error {
	t, ok := s.tables.get(id)
	if !ok {
		return ec.New("store.ReloadContentTable", ec.NotFound)
	}
	if t.Kind != TableContent {
		return ec.New("store.ReloadContentTable", ec.NotSupported)
	}
	fresh, err := s.LoadContentTable(t.Folder, false)
	if err != nil {
		return err
	}
	newTable, _ := s.tables.get(fresh)
	s.tables.remove(fresh)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = newTable.rows
	t.marks = make(map[int32]int32)
	return nil
}
