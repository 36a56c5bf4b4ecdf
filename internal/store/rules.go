package store

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// Rule state bits stored on each rule row.
const (
	RuleStateEnabled uint32 = 1 << iota
	RuleStateError
	RuleStateOnlyOnce
)

// RuleAction is the single supported action a rule evaluates to: move or
// copy the triggering message into Folder (delete if Folder is zero and
// Delete is set). Exmdb rule actions are generally a richer tagged union;
// this core covers the move/copy/delete subset delivery-time rule
// evaluation actually exercises.
type RuleAction struct {
	Folder ident.EID
	Copy   bool
	Delete bool
}

// Rule is one row of a folder's rule table, ordered by Seq.
type Rule struct {
	ID          int64
	FolderID    ident.EID
	Seq         int32
	State       uint32
	Provider    string
	Condition   Restriction
	Action      RuleAction
}

func encodeRestriction(r Restriction) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGob(r)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRestriction(b []byte) (Restriction, error) {
	if len(b) == 0 {
		return Restriction{}, nil
	}
	var g gobRestriction
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&g); err != nil {
		return Restriction{}, err
	}
	return fromGob(g), nil
}

// UpdateFolderRule adds each of rules to folder (Rule.ID == 0) or replaces
// the existing rule with that ID, the update_folder_rule verb. Rules of
// folder that are not named in rules are left unchanged.
func (s *Store) UpdateFolderRule(folder ident.EID, rules []Rule) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		for _, r := range rules {
			cond, err := encodeRestriction(r.Condition)
			if err != nil {
				return fmt.Errorf("store: UpdateFolderRule: encode condition: %v", err)
			}
			action, err := encodeRuleAction(r.Action)
			if err != nil {
				return fmt.Errorf("store: UpdateFolderRule: encode action: %v", err)
			}
			if r.ID == 0 {
				ins := conn.Prep(`INSERT INTO rules (folder_id, seq, state, provider, condition, action)
					VALUES ($fid, $seq, $state, $provider, $cond, $action);`)
				ins.SetInt64("$fid", int64(folder))
				ins.SetInt64("$seq", int64(r.Seq))
				ins.SetInt64("$state", int64(r.State))
				ins.SetText("$provider", r.Provider)
				ins.SetBytes("$cond", cond)
				ins.SetBytes("$action", action)
				if _, err := ins.Step(); err != nil {
					return err
				}
				if err := ins.Reset(); err != nil {
					return err
				}
				continue
			}
			upd := conn.Prep(`UPDATE rules SET seq = $seq, state = $state, provider = $provider,
				condition = $cond, action = $action WHERE rule_id = $id AND folder_id = $fid;`)
			upd.SetInt64("$seq", int64(r.Seq))
			upd.SetInt64("$state", int64(r.State))
			upd.SetText("$provider", r.Provider)
			upd.SetBytes("$cond", cond)
			upd.SetBytes("$action", action)
			upd.SetInt64("$id", r.ID)
			upd.SetInt64("$fid", int64(folder))
			if _, err := upd.Step(); err != nil {
				return err
			}
			if err := upd.Reset(); err != nil {
				return err
			}
		}
		return nil
	})
}

// EmptyFolderRule drops every rule on folder, the empty_folder_rule verb.
func (s *Store) EmptyFolderRule(folder ident.EID) error {
	return s.DB.WriteTx(func(conn *sqlite.Conn) error {
		del := conn.Prep(`DELETE FROM rules WHERE folder_id = $fid;`)
		del.SetInt64("$fid", int64(folder))
		if _, err := del.Step(); err != nil {
			return err
		}
		return del.Reset()
	})
}

func (s *Store) listRulesTx(conn *sqlite.Conn, folder ident.EID) ([]Rule, error) {
	var out []Rule
	stmt := conn.Prep(`SELECT rule_id, seq, state, provider, condition, action FROM rules
		WHERE folder_id = $fid AND state & $enabled != 0 ORDER BY seq;`)
	stmt.SetInt64("$fid", int64(folder))
	stmt.SetInt64("$enabled", int64(RuleStateEnabled))
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return nil, err
		}
		if !hasRow {
			break
		}
		condBytes := make([]byte, stmt.GetLen("condition"))
		stmt.GetBytes("condition", condBytes)
		actionBytes := make([]byte, stmt.GetLen("action"))
		stmt.GetBytes("action", actionBytes)
		cond, err := decodeRestriction(condBytes)
		if err != nil {
			return nil, err
		}
		action, err := decodeRuleAction(actionBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, Rule{
			ID:        stmt.GetInt64("rule_id"),
			FolderID:  folder,
			Seq:       int32(stmt.GetInt64("seq")),
			State:     uint32(stmt.GetInt64("state")),
			Provider:  stmt.GetText("provider"),
			Condition: cond,
			Action:    action,
		})
	}
	return out, stmt.Reset()
}

func encodeRuleAction(a RuleAction) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRuleAction(b []byte) (RuleAction, error) {
	var a RuleAction
	if len(b) == 0 {
		return a, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&a); err != nil {
		return a, err
	}
	return a, nil
}

// RuleNewMessage evaluates folder's enabled rules, in sequence, against a
// just-delivered message and applies the first match's action, the
// delivery-time rule evaluation deliver_message requires.
// It reports whether any rule matched and, if the match's action routed
// the message elsewhere, that message's final folder.
func (s *Store) RuleNewMessage(folder, message ident.EID) (matched bool, finalFolder ident.EID, err error) {
	finalFolder = folder
	var rules []Rule
	err = s.DB.ReadTx(func(conn *sqlite.Conn) error {
		var err error
		rules, err = s.listRulesTx(conn, folder)
		return err
	})
	if err != nil {
		return false, folder, err
	}
	if len(rules) == 0 {
		return false, folder, nil
	}
	props, err := s.GetMessageProperties(message, nil)
	if err != nil {
		return false, folder, err
	}
	for _, r := range rules {
		if !r.Condition.Eval(props) {
			continue
		}
		matched = true
		switch {
		case r.Action.Delete:
			if _, err := s.DeleteMessages(folder, []ident.EID{message}, false); err != nil {
				return true, folder, err
			}
			finalFolder = 0
		case r.Action.Folder != 0:
			if _, err := s.MovecopyMessage(folder, r.Action.Folder, message, r.Action.Copy); err != nil {
				return true, folder, err
			}
			if !r.Action.Copy {
				finalFolder = r.Action.Folder
			}
		}
		break
	}
	return matched, finalFolder, nil
}
