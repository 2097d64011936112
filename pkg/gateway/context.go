package gateway

import "context"

// Transport names the connection a command arrived on.
type Transport string

const (
	TransportWebSocket Transport = "ws"
	TransportHTTP      Transport = "http"
)

type ctxKey string

const transportKey ctxKey = "transport"

func withTransport(ctx context.Context, t Transport) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// TransportFromContext returns the transport of the command running under
// ctx, or "" outside the gateway.
func TransportFromContext(ctx context.Context) Transport {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(transportKey).(Transport); ok {
		return value
	}
	return ""
}
