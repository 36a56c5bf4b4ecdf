package store

import (
	"strings"
	"time"

	"crawshaw.io/sqlite"

	"gromox.run/internal/ident"
)

// CheckContactAddress reports whether address matches a PR_EMAIL_ADDRESS or
// PR_SMTP_ADDRESS property on any live message in the store, the check
// behind the check_contact_address verb used by delivery-time recipient
// resolution.
func (s *Store) CheckContactAddress(address string) (bool, error) {
	var found bool
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT mp.value AS val FROM message_properties mp
			JOIN messages m ON m.message_id = mp.message_id
			WHERE m.is_deleted = 0 AND mp.proptag IN ($t1, $t2);`)
		stmt.SetInt64("$t1", int64(ident.PrEmailAddress))
		stmt.SetInt64("$t2", int64(ident.PrSmtpAddress))
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				break
			}
			v := make([]byte, stmt.GetLen("val"))
			stmt.GetBytes("val", v)
			if strings.EqualFold(string(v), address) {
				found = true
			}
		}
		return stmt.Reset()
	})
	return found, err
}

// GetPublicFolderUnreadCount counts live, non-associated messages under
// folder with read_state = 0, for the get_public_folder_unread_count verb.
// Public stores don't track per-user read state, so this is the store-wide
// count rather than a per-principal one.
func (s *Store) GetPublicFolderUnreadCount(folder ident.EID) (int64, error) {
	var count int64
	err := s.DB.ReadTx(func(conn *sqlite.Conn) error {
		stmt := conn.Prep(`SELECT COUNT(*) AS n FROM messages
			WHERE parent_fid = $fid AND is_deleted = 0 AND is_associated = 0 AND read_state = 0;`)
		stmt.SetInt64("$fid", int64(folder))
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if hasRow {
			count = stmt.GetInt64("n")
		}
		return stmt.Reset()
	})
	return count, err
}

// AutoreplyTimestamp returns the last time an autoreply was sent from this
// store, or the zero time if one was never recorded.
func (s *Store) AutoreplyTimestamp() (time.Time, error) {
	props, err := s.GetStoreProperties([]ident.PropTag{ident.PrAutoreplyTimestamp})
	if err != nil {
		return time.Time{}, err
	}
	if len(props) == 0 || len(props[0].Value) < 8 {
		return time.Time{}, nil
	}
	return decodeFileTime(props[0].Value), nil
}

// SetAutoreplyTimestamp records t as the last time an autoreply was sent,
// so a frontend can throttle "out of office" replies to one per sender per
// interval.
func (s *Store) SetAutoreplyTimestamp(t time.Time) error {
	return s.SetStoreProperties([]Property{{Tag: ident.PrAutoreplyTimestamp, Value: encodeFileTime(t)}})
}

func decodeFileTime(b []byte) time.Time {
	const epochDelta = 116444736000000000
	ft := int64(b[0]) | int64(b[1])<<8 | int64(b[2])<<16 | int64(b[3])<<24 |
		int64(b[4])<<32 | int64(b[5])<<40 | int64(b[6])<<48 | int64(b[7])<<56
	return time.Unix(0, (ft-epochDelta)*100).UTC()
}
