package application

import (
	"context"

	"smart-room/internal/domain"
)

// optimisticWrite describes one local-first device mutation.
type optimisticWrite struct {
	deviceID string
	// apply changes the device in place and returns how to undo exactly that change.
	apply func(d *domain.Device) (undo func(d *domain.Device))
	// applied runs after the local write is visible and before the backend call.
	applied func()
	// send performs the backend call. The returned function, if any, reconciles
	// the local device to what the backend settled on.
	send      func(ctx context.Context) (reconcile func(d *domain.Device), err error)
	operation string
	rollback  bool
}

// optimistic applies w locally, calls the backend and then either reconciles
// or, when w.rollback is set, undoes the local change. The lock is never held
// across the backend call.
func (r *Registry) optimistic(ctx context.Context, w optimisticWrite) error {
	r.mu.Lock()
	idx, ok := r.index[w.deviceID]
	if !ok {
		r.mu.Unlock()
		return domain.ErrDeviceNotFound
	}
	undo := w.apply(&r.devices[idx])
	local := r.devices[idx].Clone()
	r.mu.Unlock()

	r.notify(local)
	if w.applied != nil {
		w.applied()
	}

	reqCtx, cancel := requestContext(ctx, r.timeout)
	defer cancel()

	reconcile, err := w.send(reqCtx)
	if err != nil {
		failed := domain.NewDeviceUpdateFailed(w.deviceID, err)
		if w.rollback {
			r.mutate(w.deviceID, undo)
		}
		r.reportFailure(w.operation, local.Name, failed)
		return failed
	}

	if reconcile != nil {
		r.mutate(w.deviceID, reconcile)
	}
	return nil
}
