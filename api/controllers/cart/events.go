package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/angelmondragon/cartsync/api/responses"
	cartsvc "github.com/angelmondragon/cartsync/internal/cart"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/types"
)

const (
	stateEventType   = "state"
	defaultHeartbeat = 20 * time.Second
)

// SessionEvents streams state views as server-sent events until the client leaves
// or the session closes. Slow readers only see the latest state.
func SessionEvents(reg sessionRegistry, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if registryUnavailable(reg, logg, w, r) {
			return
		}
		controller, key, err := controllerFor(reg, r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rc := http.NewResponseController(w)
		// Streams outlive the server write timeout.
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "streaming unsupported"))
			return
		}

		updates := make(chan cartsvc.ControllerState, 1)
		unsubscribe := controller.Subscribe(func(state cartsvc.ControllerState) {
			select {
			case updates <- state:
			default:
				select {
				case <-updates:
				default:
				}
				updates <- state
			}
		})
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)

		ctx := logg.WithStoreID(r.Context(), key.StoreID.String())
		send := func(state cartsvc.ControllerState) bool {
			if err := writeStateEvent(w, state); err != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"error": err.Error()}), "cart.events.write_failed")
				return false
			}
			if err := rc.Flush(); err != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"error": err.Error()}), "cart.events.flush_failed")
				return false
			}
			return true
		}

		current := controller.State()
		if !send(current) || current.Closed {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			case state := <-updates:
				if state.Version < current.Version {
					continue
				}
				current = state
				if !send(state) || state.Closed {
					return
				}
			case <-controller.Done():
				// Drain the final closed state if it raced with Done.
				select {
				case state := <-updates:
					send(state)
				default:
					send(controller.State())
				}
				return
			}
		}
	}
}

func writeStateEvent(w io.Writer, state cartsvc.ControllerState) error {
	data, err := json.Marshal(types.EventEnvelope{
		Type:    stateEventType,
		Version: state.Version,
		Data:    newStateView(state),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", state.Version, stateEventType, data)
	return err
}
