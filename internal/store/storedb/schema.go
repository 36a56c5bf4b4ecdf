package storedb

// createSQL is executed once against a freshly created exchange.sqlite3.
// Table and column names follow the layout named by the mailbox store
// component: configurations, allocated id counters, the named-property
// map, per-object property bags, and the folder/message/attachment/
// recipient tree plus search-folder materialization.
const createSQL = `
CREATE TABLE IF NOT EXISTS configurations (
	config_id   INTEGER PRIMARY KEY,
	value       TEXT
);

CREATE TABLE IF NOT EXISTS allocated_eids (
	name        TEXT PRIMARY KEY,  -- 'cn', 'eid', or 'named_propid'
	next_value  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS named_properties (
	propid      INTEGER PRIMARY KEY,
	guid        BLOB NOT NULL,
	kind        INTEGER NOT NULL,  -- 0 = by lid, 1 = by name
	lid         INTEGER,
	name        TEXT,
	UNIQUE(guid, kind, lid, name)
);

CREATE TABLE IF NOT EXISTS store_properties (
	proptag     INTEGER PRIMARY KEY,
	value       BLOB
);

CREATE TABLE IF NOT EXISTS permissions (
	member_id   INTEGER NOT NULL,  -- 0 = default, -1 = anonymous, else user id
	folder_id   INTEGER NOT NULL,
	rights      INTEGER NOT NULL,
	PRIMARY KEY (folder_id, member_id)
);

CREATE TABLE IF NOT EXISTS rules (
	rule_id     INTEGER PRIMARY KEY,
	folder_id   INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	state       INTEGER NOT NULL,
	provider    TEXT,
	condition   BLOB,
	action      BLOB
);

CREATE TABLE IF NOT EXISTS folders (
	folder_id        INTEGER PRIMARY KEY,
	parent_id        INTEGER,
	is_search        INTEGER NOT NULL DEFAULT 0,
	change_number    INTEGER NOT NULL,
	is_deleted       INTEGER NOT NULL DEFAULT 0,
	search_scope     BLOB,        -- serialized folder id list, search folders only
	search_restrict  BLOB,        -- serialized RESTRICTION, search folders only
	search_flags     INTEGER NOT NULL DEFAULT 0,
	search_status    INTEGER NOT NULL DEFAULT 0  -- SearchStatus: initialized/searching/static/stopped
);
CREATE INDEX IF NOT EXISTS folders_parent_idx ON folders(parent_id);

CREATE TABLE IF NOT EXISTS folder_properties (
	folder_id   INTEGER NOT NULL REFERENCES folders(folder_id),
	proptag     INTEGER NOT NULL,
	value       BLOB,
	PRIMARY KEY (folder_id, proptag)
);

CREATE TABLE IF NOT EXISTS receive_table (
	message_class TEXT PRIMARY KEY,
	folder_id     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	message_id       INTEGER PRIMARY KEY,
	parent_fid       INTEGER NOT NULL REFERENCES folders(folder_id),
	change_number    INTEGER NOT NULL,
	is_associated    INTEGER NOT NULL DEFAULT 0,
	is_deleted       INTEGER NOT NULL DEFAULT 0,
	read_state       INTEGER NOT NULL DEFAULT 0,
	group_id         INTEGER NOT NULL DEFAULT 0,
	submit_flags     INTEGER NOT NULL DEFAULT 0,
	mid_string       TEXT,         -- delivery-time message-id header, for eml/ lookup
	size_estimate    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS messages_parent_idx ON messages(parent_fid);

CREATE TABLE IF NOT EXISTS message_properties (
	message_id  INTEGER NOT NULL REFERENCES messages(message_id),
	proptag     INTEGER NOT NULL,
	value       BLOB,
	PRIMARY KEY (message_id, proptag)
);
CREATE INDEX IF NOT EXISTS message_properties_tag_idx ON message_properties(proptag);

-- one row per XID contributing to a message's or folder's predecessor
-- change list; (object kind, object id) identifies the owner.
CREATE TABLE IF NOT EXISTS message_changes (
	object_kind   INTEGER NOT NULL, -- 0 = folder, 1 = message
	object_id     INTEGER NOT NULL,
	replica_guid  BLOB NOT NULL,
	gc_value      INTEGER NOT NULL,
	PRIMARY KEY (object_kind, object_id, replica_guid)
);

CREATE TABLE IF NOT EXISTS recipients (
	recipient_id INTEGER PRIMARY KEY,
	message_id   INTEGER NOT NULL REFERENCES messages(message_id),
	row_id       INTEGER NOT NULL  -- position within the message's recipient table
);
CREATE INDEX IF NOT EXISTS recipients_message_idx ON recipients(message_id);

CREATE TABLE IF NOT EXISTS recipients_properties (
	recipient_id INTEGER NOT NULL REFERENCES recipients(recipient_id),
	proptag      INTEGER NOT NULL,
	value        BLOB,
	PRIMARY KEY (recipient_id, proptag)
);

CREATE TABLE IF NOT EXISTS attachments (
	attachment_id  INTEGER PRIMARY KEY,
	message_id     INTEGER NOT NULL REFERENCES messages(message_id),
	attach_num     INTEGER NOT NULL,
	embedded_mid   INTEGER            -- message_id of the embedded message, if any
);
CREATE INDEX IF NOT EXISTS attachments_message_idx ON attachments(message_id);

CREATE TABLE IF NOT EXISTS attachment_properties (
	attachment_id INTEGER NOT NULL REFERENCES attachments(attachment_id),
	proptag       INTEGER NOT NULL,
	value         BLOB,
	PRIMARY KEY (attachment_id, proptag)
);

-- search_scopes + search_result realize §4.1's search folders: scopes are
-- the set of real folders a search folder walks, search_result is the
-- materialized membership the content-table view reads from.
CREATE TABLE IF NOT EXISTS search_scopes (
	folder_id   INTEGER NOT NULL REFERENCES folders(folder_id),
	scope_fid   INTEGER NOT NULL,
	PRIMARY KEY (folder_id, scope_fid)
);

CREATE TABLE IF NOT EXISTS search_result (
	folder_id   INTEGER NOT NULL REFERENCES folders(folder_id),
	message_id  INTEGER NOT NULL,
	PRIMARY KEY (folder_id, message_id)
);

-- cid_refs tracks reference counts for content-addressed blobs under
-- <storedir>/cid/<n>, so deleting the last referencing property can GC the
-- file (or, for inline-blob mode, the row in sqlite itself).
CREATE TABLE IF NOT EXISTS cid_refs (
	cid         INTEGER PRIMARY KEY,
	refcount    INTEGER NOT NULL DEFAULT 0,
	byte_length INTEGER NOT NULL DEFAULT 0
);
`
