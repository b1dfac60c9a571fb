/*
Package observability turns runner lifecycle events into Prometheus metrics and
structured audit logs.

Both are exposed as domain.LifecycleHooks and can be combined with domain.MergeHooks:

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := domain.MergeHooks(metrics.Hooks(), observability.AuditHooks(logger))
	r := runner.New(g, saver, runner.WithHooks(hooks))
*/
package observability
