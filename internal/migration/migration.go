// Package migration upgrades versioned values (usually persisted documents)
// through an ordered set of steps keyed by "major.minor.patch" strings.
//
// The version field is advanced before each step runs. When a step fails,
// the value is left at that step's version even though the step did not
// complete, and a later run starts strictly above it; the failed step is not
// retried. Steps must therefore tolerate being skipped, or callers must
// restore the previous version themselves before persisting a failed result.
package migration

import (
	"context"
	"log/slog"
	"sort"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/logfields"
	"git.home.luguber.info/inful/bootstrapd/internal/versioning"
)

// Step transforms target in place.
type Step[T any] func(ctx context.Context, target T) error

// Steps maps a version string to the step that produces it.
type Steps[T any] map[string]Step[T]

// Accessor reads and writes the version field of a target.
type Accessor[T any] struct {
	Get func(T) string
	Set func(T, string)
}

type plannedStep[T any] struct {
	version versioning.Triple
	raw     string
	run     Step[T]
}

// Run applies every step whose version is strictly greater than the target's
// current version, in ascending order. An empty current version is treated as
// 0.0.0. Malformed versions fail the run before any step executes.
func Run[T any](ctx context.Context, target T, steps Steps[T], acc Accessor[T]) error {
	plan, err := plan(acc.Get(target), steps)
	if err != nil {
		return err
	}
	for _, s := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		acc.Set(target, s.raw)
		slog.Debug("Applying migration step", logfields.Version(s.raw))
		if err := s.run(ctx, target); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryMigration, "migration step failed").
				Fatal().
				WithContext("version", s.raw).
				Build()
		}
	}
	return nil
}

// Pending returns the step versions Run would apply from current, ascending.
func Pending[T any](current string, steps Steps[T]) ([]string, error) {
	p, err := plan(current, steps)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(p))
	for _, s := range p {
		out = append(out, s.raw)
	}
	return out, nil
}

// Latest returns the highest step version, or "" when steps is empty.
func Latest[T any](steps Steps[T]) (string, error) {
	p, err := plan("", steps)
	if err != nil || len(p) == 0 {
		return "", err
	}
	return p[len(p)-1].raw, nil
}

func plan[T any](current string, steps Steps[T]) ([]plannedStep[T], error) {
	from := versioning.Zero
	if current != "" {
		v, err := versioning.Parse(current)
		if err != nil {
			return nil, err
		}
		from = v
	}

	planned := make([]plannedStep[T], 0, len(steps))
	for raw, run := range steps {
		v, err := versioning.Parse(raw)
		if err != nil {
			return nil, err
		}
		if from.Less(v) {
			planned = append(planned, plannedStep[T]{version: v, raw: raw, run: run})
		}
	}
	sort.Slice(planned, func(i, j int) bool { return planned[i].version.Less(planned[j].version) })
	return planned, nil
}
