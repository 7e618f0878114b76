package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/types"
	"go.uber.org/multierr"
)

// SessionKey identifies one open cart view.
type SessionKey struct {
	UserID  string
	StoreID types.RemoteID
}

func (k SessionKey) String() string {
	return k.UserID + "/" + k.StoreID.String()
}

func (k SessionKey) validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user id is required")
	}
	if k.StoreID.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	return nil
}

// RegistryParams wires a Registry. Factory is required; Snapshots is optional.
type RegistryParams struct {
	Factory         ServiceFactory
	Snapshots       *SnapshotStore
	ComboRootPrefix string
	Logger          *logger.Logger
	Metrics         *metrics.CartMetrics
}

type session struct {
	controller *Controller
	token      string
}

// Registry owns one controller per open (user, store) cart view.
type Registry struct {
	factory   ServiceFactory
	snapshots *SnapshotStore
	prefix    string
	logg      *logger.Logger
	metrics   *metrics.CartMetrics

	mu       sync.Mutex
	sessions map[SessionKey]*session
}

// NewRegistry builds an empty registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Factory == nil {
		return nil, fmt.Errorf("service factory required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Registry{
		factory:   params.Factory,
		snapshots: params.Snapshots,
		prefix:    params.ComboRootPrefix,
		logg:      params.Logger,
		metrics:   params.Metrics,
		sessions:  make(map[SessionKey]*session),
	}, nil
}

// Open returns the controller for key, creating it from the server cart when needed.
// When the fetch fails and a snapshot exists, the snapshot seeds the controller.
// Opening with a different token replaces the session.
func (r *Registry) Open(ctx context.Context, key SessionKey, token string) (*Controller, error) {
	if err := key.validate(); err != nil {
		return nil, err
	}
	if existing := r.lookup(key, token); existing != nil {
		return existing, nil
	}

	svc, err := r.factory(token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart service")
	}
	cart, err := r.initialCart(ctx, key, svc)
	if err != nil {
		return nil, err
	}

	controller, err := NewController(ControllerParams{
		Service:         svc,
		Cart:            cart,
		ComboRootPrefix: r.prefix,
		Logger:          r.logg,
		Metrics:         r.metrics,
		Snapshotter:     r.snapshots.For(key),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build cart controller")
	}

	r.mu.Lock()
	if current, ok := r.sessions[key]; ok && current.token == token {
		r.mu.Unlock()
		controller.Close()
		return current.controller, nil
	}
	previous := r.sessions[key]
	r.sessions[key] = &session{controller: controller, token: token}
	r.mu.Unlock()

	if previous != nil {
		previous.controller.Close()
	} else {
		r.metrics.SessionOpened()
	}
	r.logg.Info(r.sessionContext(ctx, key), "cart.session.opened")
	return controller, nil
}

// Get returns the open controller for key.
func (r *Registry) Get(key SessionKey) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return s.controller, true
}

// Len reports the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends the session for key and flushes its confirmed cart to the snapshot store.
// Closing an unknown key is a no-op.
func (r *Registry) Close(ctx context.Context, key SessionKey) error {
	r.mu.Lock()
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.shutdown(ctx, key, s)
}

// CloseAll ends every session. Snapshot flush failures are combined.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[SessionKey]*session)
	r.mu.Unlock()

	var err error
	for key, s := range sessions {
		err = multierr.Append(err, r.shutdown(ctx, key, s))
	}
	return err
}

func (r *Registry) shutdown(ctx context.Context, key SessionKey, s *session) error {
	state := s.controller.State()
	s.controller.Close()
	r.metrics.SessionClosed()
	r.logg.Info(r.sessionContext(ctx, key), "cart.session.closed")
	if r.snapshots == nil {
		return nil
	}
	if err := r.snapshots.Save(ctx, key, state.Cart); err != nil {
		return fmt.Errorf("flush session %s: %w", key, err)
	}
	return nil
}

func (r *Registry) lookup(key SessionKey, token string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok && s.token == token {
		return s.controller
	}
	return nil
}

func (r *Registry) initialCart(ctx context.Context, key SessionKey, svc Service) (*types.Cart, error) {
	cart, err := svc.FetchCart(ctx, key.StoreID)
	if err == nil {
		return cart, nil
	}
	if r.snapshots == nil {
		return nil, err
	}
	snapshot, found, loadErr := r.snapshots.Load(ctx, key)
	if loadErr != nil {
		r.logg.Warn(r.logg.WithFields(r.sessionContext(ctx, key), pkgerrors.Dump(loadErr).Fields()), "cart.snapshot.load_failed")
	}
	if !found {
		return nil, err
	}
	r.logg.Warn(r.logg.WithFields(r.sessionContext(ctx, key), pkgerrors.Dump(err).Fields()), "cart.session.opened_from_snapshot")
	return snapshot, nil
}

func (r *Registry) sessionContext(ctx context.Context, key SessionKey) context.Context {
	ctx = r.logg.WithUserID(ctx, key.UserID)
	return r.logg.WithStoreID(ctx, key.StoreID.String())
}
