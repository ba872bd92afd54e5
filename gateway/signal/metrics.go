package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/meetbridge/interview-gateway/internal/otel"
)

var (
	wsConnectionsActive metric.Int64UpDownCounter
	wsConnectionsTotal  metric.Int64Counter
	wsDisconnectsTotal  metric.Int64Counter

	authAttempts metric.Int64Counter
	authFailures metric.Int64Counter

	notificationsSent   metric.Int64Counter
	notificationsFailed metric.Int64Counter

	relayForwarded metric.Int64Counter
	relayDropped   metric.Int64Counter

	chatThrottled  metric.Int64Counter
	forcedRemovals metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("gateway.signal", intotel.PrefixGateway)

	f.Int64UpDownCounter(&wsConnectionsActive, "ws.connections.active",
		metric.WithDescription("Currently open WebSocket connections"))

	f.Int64Counter(&wsConnectionsTotal, "ws.connections.total",
		metric.WithDescription("Total accepted WebSocket connections"))

	f.Int64Counter(&wsDisconnectsTotal, "ws.disconnects.total",
		metric.WithDescription("Total WebSocket disconnects"))

	f.Int64Counter(&authAttempts, "auth.attempts",
		metric.WithDescription("Total credential verifications attempted"))

	f.Int64Counter(&authFailures, "auth.failures",
		metric.WithDescription("Total credential verifications rejected"))

	f.Int64Counter(&notificationsSent, "notifications.sent",
		metric.WithDescription("Total notifications delivered to clients"))

	f.Int64Counter(&notificationsFailed, "notifications.failed",
		metric.WithDescription("Total notifications that failed to deliver"))

	f.Int64Counter(&relayForwarded, "relay.forwarded",
		metric.WithDescription("Total signaling messages forwarded to a peer"))

	f.Int64Counter(&relayDropped, "relay.dropped",
		metric.WithDescription("Total signaling messages dropped for a missing peer"))

	f.Int64Counter(&chatThrottled, "chat.throttled",
		metric.WithDescription("Total chat messages dropped by rate limiting"))

	f.Int64Counter(&forcedRemovals, "removals.forced",
		metric.WithDescription("Total connections force-removed from a room"))
}
