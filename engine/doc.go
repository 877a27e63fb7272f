// Package engine runs repositories: named log streams that drain their write
// queue into the entry store.
//
// A Repository is a two-state machine, Offline and Online. Start validates
// the config, builds one parser chain per storage worker, provisions the
// queue and launches exactly WriteQueueWorkerCount workers. Stop signals
// every worker, waits for them and releases the queue consumer. Direct
// Start/Stop calls are strict: starting an online repository or stopping an
// offline one is an error.
//
// A StorageWorker loops: poll the queue with a short wait, pick a parser by
// source and host, parse, persist, acknowledge. Parse failures are
// acknowledged and copied to the dead-letter address. Store failures roll the
// message back so the broker redelivers it, bounded by the broker's
// max-deliver setting. A worker that panics stops alone; it is logged,
// counted and reported through health, nothing restarts it.
//
// The Manager owns all repositories. LoadRepositories reconciles them with
// the config source; Start and Stop act on every repository and are safe to
// repeat.
//
//	mgr := engine.NewManager(source, engine.Dependencies{
//	    Broker:  broker,
//	    Store:   store,
//	    Parsers: parser.NewFactory(),
//	    Logger:  logger,
//	})
//	if err := mgr.LoadRepositories(ctx); err != nil { ... }
//	if err := mgr.Start(ctx, true); err != nil { ... }
//	defer mgr.Stop(context.Background())
package engine
