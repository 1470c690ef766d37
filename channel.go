package go_cdp

import (
	"sync"
)

// Socket is the outbound half of a transport connection. Implementations
// must tolerate concurrent callers; the session serializes whole frames
// under its own write lock before they reach the socket.
type Socket interface {
	Write(p []byte) (n int, err error)
}

// App is the capability interface a registered application exposes to
// the channel layer. HandleMessage receives one complete, reassembled
// session-plane message; Done is invoked once when the owning channel
// is unregistered or its session torn down.
type App interface {
	HandleMessage(channel *Channel, payload []byte) error
	Done()
}

// AppFactory produces an App instance for a newly opened channel.
type AppFactory func(channel *Channel) (App, error)

// AppRegistry maps (app id, app name) pairs to application factories.
// A session consults it when the peer opens a channel.
type AppRegistry struct {
	mu        sync.RWMutex
	factories map[appKey]AppFactory
}

type appKey struct {
	id   string
	name string
}

// NewAppRegistry creates an empty application registry.
func NewAppRegistry() *AppRegistry {
	return &AppRegistry{factories: make(map[appKey]AppFactory)}
}

// Register binds an application factory to an (id, name) pair,
// replacing any previous binding.
func (ar *AppRegistry) Register(id, name string, factory AppFactory) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.factories[appKey{id, name}] = factory
	Debug("Registered application %s/%s", id, name)
}

// Unregister removes the binding for an (id, name) pair.
func (ar *AppRegistry) Unregister(id, name string) {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	delete(ar.factories, appKey{id, name})
}

// lookup returns the factory bound to (id, name).
func (ar *AppRegistry) lookup(id, name string) (AppFactory, bool) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()
	f, ok := ar.factories[appKey{id, name}]
	return f, ok
}

// Channel is one logical in-session stream bound to an application
// instance. It holds a non-owning reference back to the session that
// created it; the session owns the channel and disposes it on teardown.
type Channel struct {
	id      uint64
	session *Session
	socket  Socket
	app     App
}

// ID returns the channel id, unique and monotonic within the session.
func (ch *Channel) ID() uint64 {
	return ch.id
}

// Session returns the owning session.
func (ch *Channel) Session() *Session {
	return ch.session
}

// Send writes a session-plane message on this channel, fragmenting and
// encrypting it under the session keys.
func (ch *Channel) Send(payload []byte) error {
	return ch.session.SendSessionMessage(ch.socket, ch.id, payload)
}

// dispose releases the application instance. Panics inside Done are
// contained so one misbehaving app cannot break session teardown.
func (ch *Channel) dispose() {
	defer func() {
		if r := recover(); r != nil {
			Error("Panic disposing channel %d app: %v", ch.id, r)
		}
	}()
	if ch.app != nil {
		ch.app.Done()
	}
}

// channelRegistry owns the channels of one session. Channel ids are
// 1-based and strictly increasing; an id is never reused within a
// session even after its channel is unregistered.
type channelRegistry struct {
	mu       sync.Mutex
	channels map[uint64]*Channel
	order    []uint64
	nextID   uint64
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[uint64]*Channel)}
}

// startChannel allocates the next channel id, instantiates the
// application registered under (request.Id, request.Name) and inserts
// the channel.
func (cr *channelRegistry) startChannel(session *Session, apps *AppRegistry, request *StartChannelRequest, socket Socket) (uint64, error) {
	factory, ok := apps.lookup(request.Id, request.Name)
	if !ok {
		return 0, NewSessionError(session.LocalID(), "starting channel", ErrAppNotRegistered)
	}
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.nextID++
	ch := &Channel{
		id:      cr.nextID,
		session: session,
		socket:  socket,
	}
	app, err := factory(ch)
	if err != nil {
		cr.nextID-- // allocation failed before the id was visible
		return 0, NewSessionError(session.LocalID(), "instantiating application", err)
	}
	ch.app = app
	cr.channels[ch.id] = ch
	cr.order = append(cr.order, ch.id)
	Debug("Started channel %d for app %s/%s on session %d", ch.id, request.Id, request.Name, session.LocalID())
	return ch.id, nil
}

// get returns the channel registered under id.
func (cr *channelRegistry) get(id uint64) (*Channel, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	ch, ok := cr.channels[id]
	return ch, ok
}

// unregister removes and disposes the channel registered under id.
func (cr *channelRegistry) unregister(id uint64) error {
	cr.mu.Lock()
	ch, ok := cr.channels[id]
	if ok {
		delete(cr.channels, id)
	}
	cr.mu.Unlock()
	if !ok {
		return ErrChannelNotFound
	}
	ch.dispose()
	return nil
}

// count returns the number of live channels.
func (cr *channelRegistry) count() int {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return len(cr.channels)
}

// disposeAll disposes every live channel in insertion order. Called on
// session teardown.
func (cr *channelRegistry) disposeAll() {
	cr.mu.Lock()
	order := cr.order
	channels := cr.channels
	cr.channels = make(map[uint64]*Channel)
	cr.order = nil
	cr.mu.Unlock()
	for _, id := range order {
		if ch, ok := channels[id]; ok {
			ch.dispose()
		}
	}
}
