package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"crawshaw.io/sqlite"
	"golang.org/x/sync/errgroup"

	"gromox.run/internal/ident"
)

// Search-folder flags, matching the SEARCH_FLAG_* wire values.
const (
	SearchFlagShallow   uint32 = 1 << 0 // scope folders only, not their descendants
	SearchFlagRecursive uint32 = 1 << 1 // scope folders and all descendants
	SearchFlagRestart   uint32 = 1 << 2 // (re)populate now
	SearchFlagStop      uint32 = 1 << 3 // cancel any in-flight population, freeze membership
)

// SearchStatus is get_search_criteria's reported state.
type SearchStatus int

const (
	SearchInitialized SearchStatus = iota // criteria set, never populated
	SearchSearching                       // populator goroutine running
	SearchStatic                          // population finished, not stopped
	SearchStopped                         // SEARCH_FLAG_STOP observed
)

// SearchCriteria is a search folder's static scope plus dynamic filter, as
// stored and returned by set/get_search_criteria.
type SearchCriteria struct {
	Scope       []ident.EID
	Restriction Restriction
	Flags       uint32
	Status      SearchStatus
}

type gobRestriction struct {
	Op       int
	Children []gobRestriction
	Tag      uint32
	Value    []byte
}

func toGob(r Restriction) gobRestriction {
	g := gobRestriction{Op: int(r.Op), Tag: uint32(r.Tag), Value: r.Value}
	for _, c := range r.Children {
		g.Children = append(g.Children, toGob(c))
	}
	return g
}

func fromGob(g gobRestriction) Restriction {
	r := Restriction{Op: RestrictionOp(g.Op), Tag: ident.PropTag(g.Tag), Value: g.Value}
	for _, c := range g.Children {
		r.Children = append(r.Children, fromGob(c))
	}
	return r
}

// SetSearchCriteria records folder's scope and restriction and, when
// SearchFlagRestart is set, (re)starts the async populator; SearchFlagStop
// cancels any running populator and freezes the folder's search_result
// rows. Results never become visible before the search is at least
// "initialized".
func (s *Store) SetSearchCriteria(folder ident.EID, c SearchCriteria) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGob(c.Restriction)); err != nil {
		return fmt.Errorf("store: SetSearchCriteria: encode restriction: %v", err)
	}
	var scopeBuf bytes.Buffer
	if err := gob.NewEncoder(&scopeBuf).Encode(c.Scope); err != nil {
		return fmt.Errorf("store: SetSearchCriteria: encode scope: %v", err)
	}

	status := SearchInitialized
	if c.Flags&SearchFlagStop != 0 {
		status = SearchStopped
	}

	err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
		upd := conn.Prep(`UPDATE folders SET is_search = 1, search_scope = $scope,
			search_restrict = $restrict, search_flags = $flags, search_status = $status
			WHERE folder_id = $id;`)
		upd.SetInt64("$id", int64(folder))
		upd.SetBytes("$scope", scopeBuf.Bytes())
		upd.SetBytes("$restrict", buf.Bytes())
		upd.SetInt64("$flags", int64(c.Flags))
		upd.SetInt64("$status", int64(status))
		if _, err := upd.Step(); err != nil {
			return err
		}
		return upd.Reset()
	})
	if err != nil {
		return err
	}

	if c.Flags&SearchFlagStop != 0 {
		s.populate.stop(folder)
		return nil
	}
	if c.Flags&SearchFlagRestart != 0 {
		s.populate.restart(folder, c.Scope, c.Restriction, c.Flags&SearchFlagRecursive != 0)
	}
	return nil
}

// GetSearchCriteria returns folder's last-set criteria and current status.
func (s *Store) GetSearchCriteria(folder ident.EID) (SearchCriteria, error) {
	var c SearchCriteria
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT search_scope, search_restrict, search_flags, search_status
			FROM folders WHERE folder_id = $id AND is_search = 1;`)
		stmt.SetInt64("$id", int64(folder))
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			stmt.Reset()
			return fmt.Errorf("store: GetSearchCriteria: %s is not a search folder", folder)
		}
		scopeBytes := make([]byte, stmt.GetLen("search_scope"))
		stmt.GetBytes("search_scope", scopeBytes)
		restrictBytes := make([]byte, stmt.GetLen("search_restrict"))
		stmt.GetBytes("search_restrict", restrictBytes)
		c.Flags = uint32(stmt.GetInt64("search_flags"))
		c.Status = SearchStatus(stmt.GetInt64("search_status"))
		if err := stmt.Reset(); err != nil {
			return err
		}
		if len(scopeBytes) > 0 {
			if err := gob.NewDecoder(bytes.NewReader(scopeBytes)).Decode(&c.Scope); err != nil {
				return err
			}
		}
		if len(restrictBytes) > 0 {
			var g gobRestriction
			if err := gob.NewDecoder(bytes.NewReader(restrictBytes)).Decode(&g); err != nil {
				return err
			}
			c.Restriction = fromGob(g)
		}
		return nil
	})
	return c, err
}

func (s *Store) listMessageIDsTx(conn *sqlite.Conn, folder ident.EID) ([]ident.EID, error) {
	var out []ident.EID
	stmt := conn.Prep(`SELECT message_id FROM messages WHERE parent_fid = $fid AND is_deleted = 0;`)
	stmt.SetInt64("$fid", int64(folder))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, ident.EID(stmt.GetInt64("message_id")))
	}
	return out, stmt.Reset()
}

func (s *Store) listChildFoldersTx(conn *sqlite.Conn, folder ident.EID) ([]ident.EID, error) {
	var out []ident.EID
	stmt := conn.Prep(`SELECT folder_id FROM folders WHERE parent_id = $fid AND is_deleted = 0;`)
	stmt.SetInt64("$fid", int64(folder))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		out = append(out, ident.EID(stmt.GetInt64("folder_id")))
	}
	return out, stmt.Reset()
}

// insertSearchResults appends ids to folder's materialized search_result
// set, the view the contents table of a search folder reads from.
func (s *Store) insertSearchResults(folder ident.EID, ids []ident.EID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		ins := conn.Prep(`INSERT OR IGNORE INTO search_result (folder_id, message_id) VALUES ($fid, $mid);`)
		for _, id := range ids {
			ins.SetInt64("$fid", int64(folder))
			ins.SetInt64("$mid", int64(id))
			if _, err := ins.Step(); err != nil {
				return err
			}
			if err := ins.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
}

// searchPopulator owns the cancelable goroutines that walk a search
// folder's scope and fill in search_result. One goroutine runs per search
// folder at a time; starting a new one (restart) cancels any prior run
// for that folder first.
type searchPopulator struct {
	store *Store

	mu      sync.Mutex
	running map[ident.EID]context.CancelFunc
}

func newSearchPopulator(s *Store) *searchPopulator {
	return &searchPopulator{store: s, running: make(map[ident.EID]context.CancelFunc)}
}

func (p *searchPopulator) stopAll() {
	p.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(p.running))
	for _, c := range p.running {
		cancels = append(cancels, c)
	}
	p.running = make(map[ident.EID]context.CancelFunc)
	p.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (p *searchPopulator) stop(folder ident.EID) {
	p.mu.Lock()
	cancel, ok := p.running[folder]
	delete(p.running, folder)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *searchPopulator) restart(folder ident.EID, scope []ident.EID, restriction Restriction, recursive bool) {
	p.stop(folder)

	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.running[folder] = cancel
	p.mu.Unlock()

	p.store.setSearchStatus(folder, SearchSearching)

	go func() {
		err := p.walk(ctx, folder, scope, restriction, recursive)
		p.mu.Lock()
		// Only clear and report status if we weren't superseded: a newer
		// restart or a stop cancels our context before it replaces or
		// removes our cancel func.
		superseded := ctx.Err() != nil
		if !superseded {
			delete(p.running, folder)
		}
		p.mu.Unlock()
		if err == nil && !superseded {
			p.store.setSearchStatus(folder, SearchStatic)
		}
	}()
}

func (p *searchPopulator) walk(ctx context.Context, folder ident.EID, scope []ident.EID, restriction Restriction, recursive bool) error {
	g, ctx := errgroup.WithContext(ctx)
	results := make(chan ident.EID, 64)

	for _, scopeFolder := range scope {
		scopeFolder := scopeFolder
		g.Go(func() error {
			return p.walkFolder(ctx, scopeFolder, recursive, restriction, results)
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	const batchSize = 200
	batch := make([]ident.EID, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := p.store.insertSearchResults(folder, batch)
		batch = batch[:0]
		return err
	}
	for id := range results {
		batch = append(batch, id)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return flush()
}

func (p *searchPopulator) walkFolder(ctx context.Context, folder ident.EID, recursive bool, restriction Restriction, out chan<- ident.EID) error {
	var ids []ident.EID
	err := p.store.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		ids, err = p.store.listMessageIDsTx(conn, folder)
		return err
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		props, err := p.store.GetMessageProperties(id, nil)
		if err != nil {
			return err
		}
		if !restriction.Eval(props) {
			continue
		}
		select {
		case out <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !recursive {
		return nil
	}
	var children []ident.EID
	err = p.store.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		children, err = p.store.listChildFoldersTx(conn, folder)
		return err
	})
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := p.walkFolder(ctx, c, recursive, restriction, out); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) setSearchStatus(folder ident.EID, status SearchStatus) {
	s.DB.WriteTx(func(conn *sqlite.Conn) error {
		upd := conn.Prep(`UPDATE folders SET search_status = $status WHERE folder_id = $id;`)
		upd.SetInt64("$status", int64(status))
		upd.SetInt64("$id", int64(folder))
		if _, err := upd.Step(); err != nil {
			return err
		}
		return upd.Reset()
	})
}
