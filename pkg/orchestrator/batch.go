package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/glorpus-work/kpm/internal/logger"
	"github.com/glorpus-work/kpm/pkg/errors"
	"github.com/glorpus-work/kpm/pkg/model"
)

// UpdateAll updates every installed package. A failing package does not stop
// the batch; its error is recorded in the result. Results keep the order of
// ListInstalled regardless of Options.Concurrency. The returned error is only
// set when the installed packages cannot be enumerated.
func (o *Orchestrator) UpdateAll(ctx context.Context) (model.BatchResult, error) {
	result := model.BatchResult{
		Succeeded: []model.PackageOutcome{},
		Failed:    []model.PackageFailure{},
	}

	names, err := o.Manifests.List()
	if err != nil {
		return result, errors.NewPackageError(opUpdate, "*", err)
	}

	type slot struct {
		outcome *UpdateResult
		err     error
	}
	slots := make([]slot, len(names))

	var g errgroup.Group
	g.SetLimit(o.concurrency())
	for i, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				slots[i].err = errors.NewPackageError(opUpdate, name, err)
				return nil
			}
			slots[i].outcome, slots[i].err = o.Update(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range names {
		if slots[i].err != nil {
			logger.Debug("package update failed", logger.Fields{"package": name, "error": slots[i].err.Error()})
			result.Failed = append(result.Failed, model.PackageFailure{Name: name, Err: slots[i].err})
			continue
		}
		u := slots[i].outcome
		result.Succeeded = append(result.Succeeded, model.PackageOutcome{
			Name:            u.Name,
			PreviousVersion: u.PreviousVersion,
			Version:         u.Version,
			UpToDate:        u.UpToDate,
		})
	}
	return result, nil
}

func (o *Orchestrator) concurrency() int {
	if o.Options.Concurrency < 1 {
		return 1
	}
	return o.Options.Concurrency
}

// keyedMutex serializes pipelines per package name. The zero value is ready to use.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(name string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[name]
	if !ok {
		l = &sync.Mutex{}
		k.locks[name] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
