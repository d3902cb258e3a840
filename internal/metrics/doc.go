// Package metrics provides observability hooks for the bootstrap flow.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	sync := resources.NewManaged(opts) // opts.Recorder == nil ⇒ NoopRecorder
//
// PrometheusRecorder registers its collectors on the registry it is given;
// HTTPHandler exposes that registry when `bootstrapd run --metrics-listen` is set.
package metrics
