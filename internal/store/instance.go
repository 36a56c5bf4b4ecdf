package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ec"
	"gromox.run/internal/ident"
)

// InstanceKind distinguishes a message instance from an attachment
// instance.
type InstanceKind uint8

const (
	InstanceMessage InstanceKind = iota
	InstanceAttachment
)

// Instance is a mutable scratch copy of a message or attachment being
// edited. Changes are invisible to other readers of the underlying object
// until Flush commits them.
type Instance struct {
	ID         uint64
	Kind       InstanceKind
	MessageID  ident.EID // the message this instance edits, or will create
	FolderID   ident.EID
	Associated bool
	IsNew      bool // message_id does not exist in the DB yet
	AttachNum  int32

	mu    sync.Mutex
	props map[ident.PropTag][]byte
	// recipients holds one property map per recipient row, scratch-only
	// until Flush; attachNums lists the attach_num values a message
	// instance currently carries (real attachment rows, not instances).
	recipients []map[ident.PropTag][]byte
	attachNums []int32
}

// instanceTable is the per-store registry of open instances, keyed by a
// monotonic id handed back from every *Instance verb. A real exmdb server
// scopes these to one RPC connection; this core scopes them to the open
// Store instead (documented in DESIGN.md) since nothing here multiplexes
// more than one exmdb connection per mailbox process.
type instanceTable struct {
	next atomic.Uint64

	mu   sync.Mutex
	byID map[uint64]*Instance
}

func newInstanceTable() *instanceTable {
	return &instanceTable{byID: make(map[uint64]*Instance)}
}

func (t *instanceTable) add(in *Instance) uint64 {
	id := t.next.Add(1)
	in.ID = id
	t.mu.Lock()
	t.byID[id] = in
	t.mu.Unlock()
	return id
}

func (t *instanceTable) get(id uint64) (*Instance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	in, ok := t.byID[id]
	return in, ok
}

func (t *instanceTable) remove(id uint64) {
	t.mu.Lock()
	delete(t.byID, id)
	t.mu.Unlock()
}

// LoadMessageInstance opens a scratch copy of an existing message for
// editing, the load_message_instance verb.
func (s *Store) LoadMessageInstance(folder, message ident.EID) (uint64, error) {
	props, err := s.GetMessageProperties(message, nil)
	if err != nil {
		return 0, ec.Wrap("store.LoadMessageInstance", ec.NotFound, err)
	}
	in := &Instance{
		Kind:      InstanceMessage,
		MessageID: message,
		FolderID:  folder,
		props:     propsToMap(props),
		AttachNum: -1,
	}
	return s.instances.add(in), nil
}

// CreateMessageInstance opens a scratch copy for a message id the caller
// has already allocated (via AllocateMessageID) but not yet written, the
// create-message half of the instance API (create_attachment_instance's
// message-level analogue; the exmdb surface folds this into
// load_message_instance with b_new=true, modeled here as a separate,
// clearer entry point).
func (s *Store) CreateMessageInstance(folder, message ident.EID, associated bool) uint64 {
	in := &Instance{
		Kind:       InstanceMessage,
		MessageID:  message,
		FolderID:   folder,
		Associated: associated,
		IsNew:      true,
		props:      make(map[ident.PropTag][]byte),
		AttachNum:  -1,
	}
	return s.instances.add(in)
}

// ReloadMessageInstance discards in-RAM edits and reloads from the
// persisted message, the reload_message_instance verb.
func (s *Store) ReloadMessageInstance(instanceID uint64) error {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return ec.New("store.ReloadMessageInstance", ec.NotFound)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.IsNew {
		in.props = make(map[ident.PropTag][]byte)
		return nil
	}
	props, err := s.GetMessageProperties(in.MessageID, nil)
	if err != nil {
		return err
	}
	in.props = propsToMap(props)
	return nil
}

// ClearMessageInstance resets a message instance to an empty property bag
// without touching the persisted message, the clear_message_instance verb.
func (s *Store) ClearMessageInstance(instanceID uint64) error {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return ec.New("store.ClearMessageInstance", ec.NotFound)
	}
	in.mu.Lock()
	in.props = make(map[ident.PropTag][]byte)
	in.recipients = nil
	in.attachNums = nil
	in.mu.Unlock()
	return nil
}

// GetInstanceProperties reads tags (or all, if tags is nil) from an
// instance's in-RAM scratch copy.
func (s *Store) GetInstanceProperties(instanceID uint64, tags []ident.PropTag) ([]Property, error) {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return nil, ec.New("store.GetInstanceProperties", ec.NotFound)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(tags) == 0 {
		out := make([]Property, 0, len(in.props))
		for tag, v := range in.props {
			out = append(out, Property{Tag: tag, Value: v})
		}
		return out, nil
	}
	out := make([]Property, 0, len(tags))
	for _, tag := range tags {
		if v, ok := in.props[tag]; ok {
			out = append(out, Property{Tag: tag, Value: v})
		}
	}
	return out, nil
}

// SetInstanceProperties writes props into an instance's scratch copy only;
// the underlying message is untouched until Flush, per invariant 7.
func (s *Store) SetInstanceProperties(instanceID uint64, props []Property) error {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return ec.New("store.SetInstanceProperties", ec.NotFound)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, p := range props {
		in.props[p.Tag] = p.Value
	}
	return nil
}

// RemoveInstanceProperties deletes tags from an instance's scratch copy.
func (s *Store) RemoveInstanceProperties(instanceID uint64, tags []ident.PropTag) error {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return ec.New("store.RemoveInstanceProperties", ec.NotFound)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, tag := range tags {
		delete(in.props, tag)
	}
	return nil
}

// CheckInstanceCycle reports whether loading embedded instances starting
// at instanceID would ever revisit ancestor, guarding against a message
// embedding itself via a chain of attachments. Message/attachment
// instances in this implementation never nest beyond one level deep (an
// attachment's embedded message is itself loaded as a fresh top-level
// message instance, not chained through the parent's Instance struct), so
// a cycle can only occur if the caller re-embeds the very same message id
// into its own attachment tree; that is what this checks.
func (s *Store) CheckInstanceCycle(instanceID uint64, candidate ident.EID) (bool, error) {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return false, ec.New("store.CheckInstanceCycle", ec.NotFound)
	}
	return in.MessageID != 0 && in.MessageID == candidate, nil
}

// UnloadInstance discards an instance without flushing it.
func (s *Store) UnloadInstance(instanceID uint64) {
	s.instances.remove(instanceID)
}

// FlushInstance commits an instance's scratch properties to the
// underlying message (or creates it, if IsNew), allocating a fresh change
// number and resolving any PCL conflict against the currently stored
// object via a three-way comparison. failOnConflict maps to
// IMPORT_FLAG_FAILONCONFLICT.
func (s *Store) FlushInstance(instanceID uint64, failOnConflict bool) error {
	in, ok := s.instances.get(instanceID)
	if !ok {
		return ec.New("store.FlushInstance", ec.NotFound)
	}
	in.mu.Lock()
	props := make([]Property, 0, len(in.props))
	for tag, v := range in.props {
		props = append(props, Property{Tag: tag, Value: v})
	}
	recipients := append([]map[ident.PropTag][]byte(nil), in.recipients...)
	isNew := in.IsNew
	messageID := in.MessageID
	folder := in.FolderID
	associated := in.Associated
	in.mu.Unlock()

	if in.Kind != InstanceMessage {
		return s.flushAttachmentInstance(in)
	}

	if isNew {
		var cn ident.CN
		err := s.DB.WriteTx(func(conn *sqlite.Conn) error {
			if !folderExistsTx(conn, folder) {
				return fmt.Errorf("store: FlushInstance: folder %s does not exist", folder)
			}
			var err error
			cn, err = storedbAllocateCN(conn)
			if err != nil {
				return err
			}
			ins := conn.Prep(`INSERT INTO messages (message_id, parent_fid, change_number, is_associated)
				VALUES ($id, $fid, $cn, $assoc);`)
			ins.SetInt64("$id", int64(messageID))
			ins.SetInt64("$fid", int64(folder))
			ins.SetInt64("$cn", int64(cn))
			ins.SetInt64("$assoc", boolInt(associated))
			if _, err := ins.Step(); err != nil {
				return err
			}
			if err := ins.Reset(); err != nil {
				return err
			}
			return appendChangeTx(conn, objKindMessage, messageID, s.ReplicaGUID, ident.GC(cn))
		})
		if err != nil {
			return err
		}
		if err := s.SetMessageProperties(messageID, props); err != nil {
			return err
		}
		if err := s.flushRecipients(messageID, recipients); err != nil {
			return err
		}
		in.mu.Lock()
		in.IsNew = false
		in.mu.Unlock()
		s.notify.messageCreated(folder, messageID)
		return nil
	}

	storedPCL, err := s.MessagePCL(messageID)
	if err != nil {
		return err
	}
	candidatePCL := ident.NewPCL()
	var havePCL bool
	for _, p := range props {
		if p.Tag == ident.PrPredecessorChangeList && len(p.Value) > 0 {
			parsed, err := ident.ParsePCL(p.Value)
			if err == nil {
				candidatePCL = parsed
				havePCL = true
			}
		}
	}
	if havePCL {
		switch ident.Resolve(storedPCL, candidatePCL) {
		case ident.DispositionIgnore:
			return ec.New("store.FlushInstance", ec.SyncIgnore)
		case ident.DispositionConflict:
			if failOnConflict {
				return ec.New("store.FlushInstance", ec.SyncConflict)
			}
			// Apply anyway and record the conflict, merging both PCLs so
			// neither side's change-keys are lost.
			storedPCL.Merge(candidatePCL)
			props = append(props, Property{Tag: ident.PrConflictItems, Value: []byte{1}})
			props = append(props, Property{Tag: ident.PrPredecessorChangeList, Value: storedPCL.Serialize()})
		}
	}

	if err := s.SetMessageProperties(messageID, props); err != nil {
		return err
	}
	return s.flushRecipients(messageID, recipients)
}

func (s *Store) flushRecipients(message ident.EID, recipients []map[ident.PropTag][]byte) error {
	if len(recipients) == 0 {
		return nil
	}
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for i, rcpt := range recipients {
			ins := conn.Prep(`INSERT INTO recipients (message_id, row_id) VALUES ($mid, $row);`)
			ins.SetInt64("$mid", int64(message))
			ins.SetInt64("$row", int64(i))
			if _, err := ins.Step(); err != nil {
				return err
			}
			if err := ins.Reset(); err != nil {
				return err
			}
			rowID, err := lastInsertRowIDTx(conn)
			if err != nil {
				return err
			}
			for tag, v := range rcpt {
				pins := conn.Prep(`INSERT INTO recipients_properties (recipient_id, proptag, value) VALUES ($rid, $tag, $val);`)
				pins.SetInt64("$rid", rowID)
				pins.SetInt64("$tag", int64(tag))
				pins.SetBytes("$val", v)
				if _, err := pins.Step(); err != nil {
					return err
				}
				if err := pins.Reset(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func lastInsertRowIDTx(conn *sqlite.Conn) (int64, error) {
	stmt := conn.Prep(`SELECT last_insert_rowid() AS id;`)
	hasRow, err := stmt.Step()
	if err != nil {
		return 0, err
	}
	if !hasRow {
		stmt.Reset()
		return 0, fmt.Errorf("store: last_insert_rowid returned no row")
	}
	id := stmt.GetInt64("id")
	return id, stmt.Reset()
}

func propsToMap(props []Property) map[ident.PropTag][]byte {
	m := make(map[ident.PropTag][]byte, len(props))
	for _, p := range props {
		m[p.Tag] = p.Value
	}
	return m
}

// --- Attachment instances ---

// CreateAttachmentInstance opens a scratch attachment under a message
// instance (the message instance need not be flushed first), the
// create_attachment_instance verb.
func (s *Store) CreateAttachmentInstance(messageInstanceID uint64, attachNum int32) (uint64, error) {
	parent, ok := s.instances.get(messageInstanceID)
	if !ok {
		return 0, ec.New("store.CreateAttachmentInstance", ec.NotFound)
	}
	in := &Instance{
		Kind:      InstanceAttachment,
		MessageID: parent.MessageID,
		FolderID:  parent.FolderID,
		AttachNum: attachNum,
		IsNew:     true,
		props:     make(map[ident.PropTag][]byte),
	}
	id := s.instances.add(in)
	parent.mu.Lock()
	parent.attachNums = append(parent.attachNums, attachNum)
	parent.mu.Unlock()
	return id, nil
}

// LoadAttachmentInstance opens a scratch copy of an existing attachment.
func (s *Store) LoadAttachmentInstance(message ident.EID, attachNum int32) (uint64, error) {
	props, err := s.GetAttachmentProperties(message, attachNum, nil)
	if err != nil {
		return 0, err
	}
	in := &Instance{
		Kind:      InstanceAttachment,
		MessageID: message,
		AttachNum: attachNum,
		props:     propsToMap(props),
	}
	return s.instances.add(in), nil
}

func (s *Store) flushAttachmentInstance(in *Instance) error {
	in.mu.Lock()
	props := make([]Property, 0, len(in.props))
	for tag, v := range in.props {
		props = append(props, Property{Tag: tag, Value: v})
	}
	message, attachNum := in.MessageID, in.AttachNum
	in.mu.Unlock()
	return s.SetAttachmentProperties(message, attachNum, props)
}

// DeleteMessageInstanceAttachment removes attachNum from a message
// instance's scratch attachment list, the
// delete_message_instance_attachment verb.
func (s *Store) DeleteMessageInstanceAttachment(messageInstanceID uint64, attachNum int32) error {
	in, ok := s.instances.get(messageInstanceID)
	if !ok {
		return ec.New("store.DeleteMessageInstanceAttachment", ec.NotFound)
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.attachNums[:0]
	for _, n := range in.attachNums {
		if n != attachNum {
			out = append(out, n)
		}
	}
	in.attachNums = out
	return nil
}
