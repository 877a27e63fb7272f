// Package health reports whether the server is doing its job.
//
// Two kinds of input feed a report. Process components such as the NATS
// connection are tracked by a Monitor and updated as their state changes:
//
//	monitor := health.NewMonitor()
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithHealthChangeCallback(monitor.ConnectionCallback("nats")))
//
// Repositories are read from the engine on every check. An Online repository
// with fewer running storage workers than configured is degraded; a worker
// that crashed is not restarted, so the repository stays degraded until it
// is stopped and started again.
//
//	checker := health.NewChecker("chililog", monitor, manager, logger)
//	mux.Handle("/health", checker)
//
// The handler answers 200 for healthy and degraded systems and 503 for
// unhealthy ones. Error text is stripped of URLs, paths, addresses and
// credentials before it is reported.
package health
