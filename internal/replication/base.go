package replication

import (
	"errors"
	"fmt"

	"github.com/zeusync/arsync/internal/core/models"
	"github.com/zeusync/arsync/internal/core/observability/log"
	"github.com/zeusync/arsync/internal/core/session"
)

// Decoded pairs a component's entity with its decoded payload.
type Decoded struct {
	EntityID models.EntityID
	Record   Record
}

// Base implements System for a fixed set of Routes. It holds no locks: every
// method must be called from the session's Pump timeline.
type Base struct {
	name    string
	session session.Session
	logger  log.Log

	routes []Route
	byName map[string]int
	types  *TypeTable
}

func NewBase(name string, s session.Session, logger log.Log, routes ...Route) (*Base, error) {
	if logger == nil {
		logger = log.Provide()
	}
	b := &Base{
		name:    name,
		session: s,
		logger:  logger.With(log.String("system", name)),
		routes:  make([]Route, 0, len(routes)),
		byName:  make(map[string]int, len(routes)),
		types:   NewTypeTable(),
	}
	for _, r := range routes {
		if _, dup := b.byName[r.Name]; dup {
			return nil, fmt.Errorf("%s: %w", r.Name, ErrDuplicateName)
		}
		if r.Decode == nil {
			return nil, fmt.Errorf("%s: route has no decoder", r.Name)
		}
		b.byName[r.Name] = len(b.routes)
		b.routes = append(b.routes, r)
	}
	return b, nil
}

func (b *Base) Name() string                { return b.name }
func (b *Base) Session() session.Session    { return b.session }
func (b *Base) Logger() log.Log             { return b.logger }
func (b *Base) Local() models.ParticipantID { return b.session.ParticipantID() }

// ComponentTypeNames lists the declared names in declaration order.
func (b *Base) ComponentTypeNames() []string {
	names := make([]string, len(b.routes))
	for i, r := range b.routes {
		names[i] = r.Name
	}
	return names
}

// Start registers the system with its session and resolves every declared
// type. onReady runs once all resolutions have completed; its error joins the
// failed ones.
func (b *Base) Start(onReady func(error)) {
	b.session.RegisterSystem(b)
	b.Resolve(onReady)
}

// Resolve looks up the id of every declared type. Types that fail stay
// unusable until a later Resolve succeeds.
func (b *Base) Resolve(onDone func(error)) {
	pending := len(b.routes)
	if pending == 0 {
		session.Complete(onDone, nil)
		return
	}

	var errs []error
	finish := func() {
		pending--
		if pending == 0 {
			session.Complete(onDone, errors.Join(errs...))
		}
	}
	for _, r := range b.routes {
		name := r.Name
		b.session.ResolveComponentType(name,
			func(id models.ComponentTypeID) {
				b.types.Set(name, id)
				b.logger.Debug("component type resolved", log.String("type", name), log.Uint32("id", uint32(id)))
				finish()
			},
			func(err error) {
				b.logger.Error("component type registration failed", log.String("type", name), log.Error(err))
				errs = append(errs, fmt.Errorf("resolve %s: %w", name, err))
				finish()
			})
	}
}

// Resolved reports whether every declared type has an id.
func (b *Base) Resolved() bool { return b.types.Len() == len(b.routes) }

// Reset discards resolved ids. Notifications arriving afterwards are ignored.
func (b *Base) Reset() { b.types.Reset() }

// TypeID returns the resolved id of a declared type.
func (b *Base) TypeID(name string) (models.ComponentTypeID, error) {
	if _, ok := b.byName[name]; !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrUnknownRoute)
	}
	id, ok := b.types.ID(name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrNotResolved)
	}
	return id, nil
}

// Add writes rec as a new component on entityID.
func (b *Base) Add(entityID models.EntityID, rec Record) error {
	typeID, data, err := b.prepare(rec)
	if err != nil {
		return err
	}
	b.session.AddComponent(typeID, entityID, data, b.completion("add", rec.ComponentName(), entityID))
	return nil
}

// Update overwrites the component rec is stored under on entityID.
func (b *Base) Update(entityID models.EntityID, rec Record) error {
	typeID, data, err := b.prepare(rec)
	if err != nil {
		return err
	}
	b.session.UpdateComponent(typeID, entityID, data, b.completion("update", rec.ComponentName(), entityID))
	return nil
}

func (b *Base) Delete(name string, entityID models.EntityID) error {
	typeID, err := b.TypeID(name)
	if err != nil {
		b.logger.Warn("delete before type resolution", log.String("type", name), log.Error(err))
		return err
	}
	b.session.DeleteComponent(typeID, entityID, b.completion("delete", name, entityID))
	return nil
}

// Read decodes the local snapshot of one component. ok is false when the
// component does not exist.
func (b *Base) Read(name string, entityID models.EntityID) (rec Record, ok bool, err error) {
	typeID, err := b.TypeID(name)
	if err != nil {
		return nil, false, err
	}
	c, ok := b.session.Component(typeID, entityID)
	if !ok {
		return nil, false, nil
	}
	rec, err = b.routes[b.byName[name]].Decode(models.Change{Component: c})
	if rec == nil {
		return nil, true, err
	}
	return rec, true, nil
}

// ReadAll fetches every component of one type. Undecodable components are
// logged and left out.
func (b *Base) ReadAll(name string, onResult func([]Decoded, error)) error {
	typeID, err := b.TypeID(name)
	if err != nil {
		return err
	}
	decode := b.routes[b.byName[name]].Decode
	b.session.Components(typeID, func(components []models.Component, err error) {
		if err != nil {
			b.logger.Warn("bulk read failed", log.String("type", name), log.Error(err))
			if onResult != nil {
				onResult(nil, err)
			}
			return
		}
		out := make([]Decoded, 0, len(components))
		for _, c := range components {
			rec, decErr := decode(models.Change{Component: c})
			if rec == nil {
				b.logger.Warn("skipping undecodable component", log.String("type", name),
					log.Uint32("entity", uint32(c.EntityID)), log.Error(decErr))
				continue
			}
			out = append(out, Decoded{EntityID: c.EntityID, Record: rec})
		}
		if onResult != nil {
			onResult(out, nil)
		}
	})
	return nil
}

// WrittenByOwner reports whether the change was issued by the participant
// owning the component's entity. Changes to entities unknown locally are not.
func (b *Base) WrittenByOwner(change models.Change) bool {
	e, ok := b.session.Entity(change.Component.EntityID)
	return ok && e.OwnedBy(change.Writer)
}

func (b *Base) OnUpdated(batch []models.Change) {
	for _, change := range batch {
		r, ok := b.route(change)
		if !ok || r.OnUpdated == nil {
			continue
		}
		rec, err := r.Decode(change)
		if err != nil {
			if rec == nil {
				b.logger.Warn("skipping undecodable change", b.changeFields(r.Name, change, log.Error(err))...)
				continue
			}
			b.logger.Debug("using default record", b.changeFields(r.Name, change, log.Error(err))...)
		}
		r.OnUpdated(change, rec)
	}
}

func (b *Base) OnDeleted(batch []models.Change) {
	for _, change := range batch {
		if r, ok := b.route(change); ok && r.OnDeleted != nil {
			r.OnDeleted(change)
		}
	}
}

func (b *Base) route(change models.Change) (Route, bool) {
	name, ok := b.types.Name(change.Component.TypeID)
	if !ok {
		return Route{}, false
	}
	return b.routes[b.byName[name]], true
}

func (b *Base) prepare(rec Record) (models.ComponentTypeID, []byte, error) {
	name := rec.ComponentName()
	typeID, err := b.TypeID(name)
	if err != nil {
		b.logger.Warn("write before type resolution", log.String("type", name), log.Error(err))
		return 0, nil, err
	}
	data, err := Encode(rec)
	if err != nil {
		return 0, nil, err
	}
	return typeID, data, nil
}

// completion logs adapter failures. Writes are fire-and-forget: nothing is
// retried or rolled back.
func (b *Base) completion(op, name string, entityID models.EntityID) func(error) {
	return func(err error) {
		if err == nil {
			return
		}
		fields := []log.Field{
			log.String("op", op),
			log.String("type", name),
			log.Uint32("entity", uint32(entityID)),
			log.Error(err),
		}
		if errors.Is(err, session.ErrEntityNotFound) || errors.Is(err, session.ErrComponentNotFound) {
			b.logger.Debug("stale component write", fields...)
			return
		}
		b.logger.Warn("component write failed", fields...)
	}
}

func (b *Base) changeFields(name string, change models.Change, extra ...log.Field) []log.Field {
	return append([]log.Field{
		log.String("type", name),
		log.Uint32("entity", uint32(change.Component.EntityID)),
		log.Uint32("writer", uint32(change.Writer)),
		log.Bool("local", change.LocalChange),
	}, extra...)
}

var _ System = (*Base)(nil)
