package broker

// Descriptor is the static identity of a service plus the implementation
// that receives its lifecycle and connection hooks. The broker references a
// descriptor but never owns it; the same descriptor can be loaded and
// unloaded any number of times.
//
// Lifecycle hooks run with the service's transition lock held and must not
// call Load, Unload, Start or Stop for the same service. Connection hooks
// carry no such restriction.
type Descriptor struct {
	// Name identifies the service and must be unique among loaded services.
	Name string

	// Description is logged when the service starts.
	Description string

	// Impl may implement any subset of Loader, Unloader, Starter, Stopper,
	// Connector and Disconnector. Missing hooks are no-ops.
	Impl any
}

// Loader is called once, right after the state record is created.
type Loader interface {
	OnLoad(d *Descriptor)
}

// Unloader is called once, right before the state record is freed.
type Unloader interface {
	OnUnload(d *Descriptor)
}

// Starter is called on Ready|Stopped -> Started. It may acquire resources
// and spawn a worker.
type Starter interface {
	OnStart(d *Descriptor)
}

// Stopper is called on Started -> Stopped. It must release what OnStart
// acquired and must not return until any worker it spawned has exited.
type Stopper interface {
	OnStop(d *Descriptor)
}

// Connector is called for every new connection. The returned value is stored
// on the connection as its attachment.
type Connector interface {
	OnConnect(d *Descriptor, c *Connection) any
}

// Disconnector is called when a connection is torn down, with the attachment
// OnConnect returned for it.
type Disconnector interface {
	OnDisconnect(d *Descriptor, c *Connection, attachment any)
}

// Hooks adapts plain functions to the hook interfaces. Nil fields are no-ops.
type Hooks struct {
	Load       func(d *Descriptor)
	Unload     func(d *Descriptor)
	Start      func(d *Descriptor)
	Stop       func(d *Descriptor)
	Connect    func(d *Descriptor, c *Connection) any
	Disconnect func(d *Descriptor, c *Connection, attachment any)
}

func (h Hooks) OnLoad(d *Descriptor) {
	if h.Load != nil {
		h.Load(d)
	}
}

func (h Hooks) OnUnload(d *Descriptor) {
	if h.Unload != nil {
		h.Unload(d)
	}
}

func (h Hooks) OnStart(d *Descriptor) {
	if h.Start != nil {
		h.Start(d)
	}
}

func (h Hooks) OnStop(d *Descriptor) {
	if h.Stop != nil {
		h.Stop(d)
	}
}

func (h Hooks) OnConnect(d *Descriptor, c *Connection) any {
	if h.Connect != nil {
		return h.Connect(d, c)
	}
	return nil
}

func (h Hooks) OnDisconnect(d *Descriptor, c *Connection, attachment any) {
	if h.Disconnect != nil {
		h.Disconnect(d, c, attachment)
	}
}

func (d *Descriptor) valid() bool {
	return d != nil && d.Name != ""
}

func (d *Descriptor) onLoad() {
	if h, ok := d.Impl.(Loader); ok {
		h.OnLoad(d)
	}
}

func (d *Descriptor) onUnload() {
	if h, ok := d.Impl.(Unloader); ok {
		h.OnUnload(d)
	}
}

func (d *Descriptor) onStart() {
	if h, ok := d.Impl.(Starter); ok {
		h.OnStart(d)
	}
}

func (d *Descriptor) onStop() {
	if h, ok := d.Impl.(Stopper); ok {
		h.OnStop(d)
	}
}

func (d *Descriptor) onConnect(c *Connection) any {
	if h, ok := d.Impl.(Connector); ok {
		return h.OnConnect(d, c)
	}
	return nil
}

func (d *Descriptor) onDisconnect(c *Connection, attachment any) {
	if h, ok := d.Impl.(Disconnector); ok {
		h.OnDisconnect(d, c, attachment)
	}
}
