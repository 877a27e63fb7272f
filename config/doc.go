// Package config loads the process configuration of the server.
//
// Values come from three layers, later ones winning: the defaults returned
// by Default, an optional YAML or JSON file, and CHILILOG_* environment
// variables whose names follow the key path (storage.backend is
// CHILILOG_STORAGE_BACKEND). Durations accept Go syntax such as "500ms".
//
//	cfg, err := config.Load("/etc/chililog/server.yaml")
//	if err != nil {
//	    return err
//	}
//	broker := queue.NewBroker(client, cfg.QueueSettings(), logger)
//
// A minimal file:
//
//	nats:
//	  url: nats://nats:4222
//	storage:
//	  backend: sqlite
//	  sqlite_path: /var/lib/chililog/entries.db
//	auth:
//	  token_secret: change-me-to-something-long
//
// Repository definitions are not part of this file. They are stored in the
// repositories bucket and can be seeded from repositories.seed_file.
package config
