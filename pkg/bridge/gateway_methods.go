package bridge

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/passivebridge/pkg/commandqueue"
	"github.com/harun/passivebridge/pkg/gateway"
	"github.com/harun/passivebridge/pkg/listener"
	"github.com/harun/passivebridge/pkg/permission"
	"github.com/harun/passivebridge/pkg/result"
)

// Registrar is the part of the gateway the bridge commands are installed on.
type Registrar interface {
	RegisterMethod(name string, handler gateway.CommandHandler) error
	RegisterStreamingMethod(name string, handler gateway.CommandHandler) error
}

// rpcError attaches the transport error code for err.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotConnected):
		return gateway.NewRPCError(gateway.NotConnected, err)
	case errors.Is(err, ErrNotFound), errors.Is(err, permission.ErrNoRequester):
		return gateway.NewRPCError(gateway.NotFound, err)
	case errors.Is(err, ErrEmptySettingKey):
		return gateway.NewRPCError(gateway.InvalidParams, err)
	}
	return err
}

// query adapts a read-only bridge operation to a command.
func query[T any](op func() (T, error), encode func(T) result.Payload) gateway.CommandHandler {
	return func(_ context.Context, _ gateway.Args, reply *result.Channel) error {
		v, err := op()
		if err != nil {
			return rpcError(err)
		}
		return reply.Success(encode(v))
	}
}

// action adapts a bridge operation without a result to a command.
func action(op func() error) gateway.CommandHandler {
	return func(_ context.Context, _ gateway.Args, reply *result.Channel) error {
		if err := op(); err != nil {
			return rpcError(err)
		}
		return reply.Success(result.Empty{})
	}
}

// subscription registers the listener named by argument 0 on register and
// leaves the reply open for its events. When the id is absent or negative a
// free one is assigned and sent first as {"listenerId": id}.
func subscription[T any](register func(int, listener.Handle[T]) int, encode func(T) result.Payload) gateway.CommandHandler {
	return func(_ context.Context, args gateway.Args, reply *result.Channel) error {
		id, err := args.OptInt(0, listener.AutoID)
		if err != nil {
			return err
		}
		if id >= 0 {
			register(id, listener.FromChannel(reply, encode))
			return nil
		}

		// Events wait until the assigned id has been sent.
		h := &heldHandle[T]{inner: listener.FromChannel(reply, encode)}
		h.mu.Lock()
		defer h.mu.Unlock()
		id = register(listener.AutoID, h)
		return reply.Next(result.Record{"listenerId": id})
	}
}

type heldHandle[T any] struct {
	mu    sync.Mutex
	inner listener.Handle[T]
}

func (h *heldHandle[T]) Next(v T) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.Next(v)
}

func (h *heldHandle[T]) Success(v T) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.Success(v)
}

func (h *heldHandle[T]) Error(message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inner.Error(message)
}

func unsubscription(unregister func(int) bool) gateway.CommandHandler {
	return func(_ context.Context, args gateway.Args, reply *result.Channel) error {
		id, err := args.Int(0)
		if err != nil {
			return err
		}
		unregister(id)
		return reply.Success(result.Empty{})
	}
}

// RegisterGatewayMethods installs every bridge command on r. Configuration
// and authentication updates run on the queue's config lane so they apply
// in arrival order.
func RegisterGatewayMethods(r Registrar, b *Bridge, cq *commandqueue.CommandQueue) error {
	methods := map[string]gateway.CommandHandler{
		"configure":                      b.configureCommand(cq),
		"setAuthentication":              b.setAuthenticationCommand(cq),
		"startScanning":                  action(b.StartScanning),
		"stopScanning":                   action(b.StopScanning),
		"stop":                           b.stopCommand,
		"serverStatus":                   query(b.ServerStatus, encodeServerStatus),
		"sourceStatus":                   query(b.SourceStatus, encodeSourceStatuses),
		"recordsInCache":                 query(b.RecordsInCache, encodeCounts),
		"permissionsNeeded":              query(b.PermissionsNeeded, encodeStringLists),
		"bluetoothNeeded":                query(b.BluetoothNeeded, encodeStrings),
		"pluginsActive":                  query(b.PluginsActive, encodeStrings),
		"requestPermissionsSupported":    query(b.RequestPermissionsSupported, encodeStringLists),
		"onAcquiredPermissions":          b.onAcquiredPermissionsCommand,
		"setAllowedSourceIds":            b.setAllowedSourceIDsCommand,
		"unregisterServerStatusListener": unsubscription(b.UnregisterServerStatusListener),
		"unregisterSourceStatusListener": unsubscription(b.UnregisterSourceStatusListener),
		"unregisterSendListener":         unsubscription(b.UnregisterSendListener),
		"unregisterPluginListener":       unsubscription(b.UnregisterPluginListener),
	}

	streaming := map[string]gateway.CommandHandler{
		"start":                        b.startCommand,
		"flushCaches":                  b.flushCachesCommand,
		"requestPermissions":           b.requestPermissionsCommand,
		"registerServerStatusListener": subscription(b.RegisterServerStatusListener, encodeServerStatus),
		"registerSourceStatusListener": subscription(b.RegisterSourceStatusListener, encodeSourceStatus),
		"registerSendListener":         subscription(b.RegisterSendListener, encodeSendStatus),
		"registerPluginListener":       subscription(b.RegisterPluginListener, encodeStrings),
	}

	for name, h := range methods {
		if err := r.RegisterMethod(name, h); err != nil {
			return err
		}
	}
	for name, h := range streaming {
		if err := r.RegisterStreamingMethod(name, h); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) configureCommand(cq *commandqueue.CommandQueue) gateway.CommandHandler {
	return func(ctx context.Context, args gateway.Args, reply *result.Channel) error {
		if args.IsNull(0) {
			return gateway.NewRPCError(gateway.InvalidParams, errors.New("settings object is required"))
		}
		settings, err := ParseSettings(args.Raw(0))
		if err != nil {
			return gateway.NewRPCError(gateway.InvalidParams, err)
		}

		if _, err := cq.Enqueue(ctx, commandqueue.LaneConfig, func(context.Context) (interface{}, error) {
			return nil, b.Configure(settings)
		}); err != nil {
			return rpcError(err)
		}
		return reply.Success(result.Empty{})
	}
}

func (b *Bridge) setAuthenticationCommand(cq *commandqueue.CommandQueue) gateway.CommandHandler {
	return func(ctx context.Context, args gateway.Args, reply *result.Channel) error {
		auth, err := ParseAuthentication(args.Raw(0))
		if err != nil {
			return gateway.NewRPCError(gateway.InvalidParams, err)
		}

		if _, err := cq.Enqueue(ctx, commandqueue.LaneConfig, func(context.Context) (interface{}, error) {
			b.SetAuthentication(auth)
			return nil, nil
		}); err != nil {
			return err
		}
		return reply.Success(result.Empty{})
	}
}

func (b *Bridge) stopCommand(_ context.Context, _ gateway.Args, reply *result.Channel) error {
	b.Stop()
	return reply.Success(result.Empty{})
}

func (b *Bridge) startCommand(_ context.Context, _ gateway.Args, reply *result.Channel) error {
	return rpcError(b.Start(listener.FromChannel(reply, encodeEmpty)))
}

func (b *Bridge) flushCachesCommand(_ context.Context, _ gateway.Args, reply *result.Channel) error {
	return rpcError(b.FlushCaches(listener.FromChannel(reply, encodeFlushResult)))
}

func (b *Bridge) requestPermissionsCommand(_ context.Context, args gateway.Args, reply *result.Channel) error {
	permissions, err := args.Strings(0)
	if err != nil {
		return err
	}
	return rpcError(b.RequestPermissions(permissions, listener.FromChannel(reply, encodeStrings)))
}

func (b *Bridge) onAcquiredPermissionsCommand(_ context.Context, args gateway.Args, reply *result.Channel) error {
	var permissions []string
	if !args.IsNull(0) {
		var err error
		if permissions, err = args.Strings(0); err != nil {
			return err
		}
	}
	if err := b.OnAcquiredPermissions(permissions); err != nil {
		return rpcError(err)
	}
	return reply.Success(result.Empty{})
}

func (b *Bridge) setAllowedSourceIDsCommand(_ context.Context, args gateway.Args, reply *result.Channel) error {
	plugin, err := args.String(0)
	if err != nil {
		return err
	}
	ids, err := args.Strings(1)
	if err != nil {
		return err
	}
	if err := b.SetAllowedSourceIDs(plugin, ids); err != nil {
		return rpcError(err)
	}
	return reply.Success(result.Empty{})
}

// StateEvent describes a connection state change for gateway clients.
func StateEvent(s State) gateway.EventMessage {
	return gateway.EventMessage{
		Event:  "bridge.state",
		Stream: gateway.StreamTypeBridge,
		Phase:  s.String(),
	}
}
