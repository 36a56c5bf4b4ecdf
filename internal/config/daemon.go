package config

import (
	"log"
	"time"
)

// Daemon is the typed view of the exmdbd configuration, the recognized
// options named for the core daemon. Unrecognized keys remain reachable
// through the underlying File but are otherwise ignored.
type Daemon struct {
	ListenIP   string
	ListenPort int

	ClientRPCTimeout time.Duration

	MaxRcpt    int
	MaxMessage int

	DataPath       string
	StatePath      string
	ConfigFilePath string

	X500OrgName string

	DefaultCharset  string
	DefaultTimezone string

	// RewriteForeignSourceKeys selects whether a cross-store copy gives
	// the item a fresh PR_SOURCE_KEY in the destination store's replica
	// GUID, so the client re-downloads it under its new identity (true),
	// or leaves the key pointing at the origin store (false). It is parsed
	// and defaulted here only: the store has no cross-store import path,
	// and nothing else in the module reads it.
	RewriteForeignSourceKeys bool

	// AllowDirect enables local short-circuit dispatch: a client
	// constructed with this set bypasses the socket for servers marked
	// local in the exmdb_list and calls straight into the in-process
	// store.
	AllowDirect bool
}

// LoadDaemon reads path and fills in a Daemon, defaulting absent keys and
// logging a warning for each key it does not recognize.
func LoadDaemon(path string) (*Daemon, *File, error) {
	f, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	d := &Daemon{
		ListenIP:                 f.Get("exmdb_listen_ip", "127.0.0.1"),
		ListenPort:               f.GetInt("exmdb_listen_port", 5000),
		ClientRPCTimeout:         time.Duration(f.GetInt("exmdb_client_rpc_timeout", 60)) * time.Second,
		MaxRcpt:                  f.GetInt("max_rcpt", 256),
		MaxMessage:               f.GetInt("max_message", 64 << 20),
		DataPath:                 f.Get("data_path", "/var/lib/gromox"),
		StatePath:                f.Get("state_path", "/var/lib/gromox/state"),
		ConfigFilePath:           f.Get("config_file_path", "/etc/gromox"),
		X500OrgName:              f.Get("x500_org_name", "Gromox Default"),
		DefaultCharset:           f.Get("default_charset", "utf-8"),
		DefaultTimezone:          f.Get("default_timezone", "UTC"),
		RewriteForeignSourceKeys: f.GetBool("rewrite_foreign_source_keys", true),
		AllowDirect:              f.GetBool("exmdb_client_allow_direct", false),
	}
	known := map[string]bool{
		"exmdb_listen_ip": true, "exmdb_listen_port": true, "exmdb_client_rpc_timeout": true,
		"max_rcpt": true, "max_message": true, "data_path": true, "state_path": true,
		"config_file_path": true, "x500_org_name": true, "default_charset": true,
		"default_timezone": true, "rewrite_foreign_source_keys": true, "exmdb_client_allow_direct": true,
	}
	for _, k := range f.order {
		if !known[k] {
			log.Printf("config: %s: unrecognized option %q ignored", path, k)
		}
	}
	return d, f, nil
}
