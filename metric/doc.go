// Package metric owns the Prometheus registry shared by the repository engine,
// the queue binding and the publish/subscribe gateway.
//
// Components create their own collectors and register them under a service
// name so duplicate registrations are reported instead of panicking:
//
//	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
//	    Namespace: metric.Namespace,
//	    Subsystem: "engine",
//	    Name:      "entries_total",
//	}, []string{"repository", "outcome"})
//	if err := registry.RegisterCounterVec("engine", "entries_total", processed); err != nil {
//	    return err
//	}
//
// Handler serves the registry on the gateway's /metrics route.
package metric
