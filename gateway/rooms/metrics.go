package rooms

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/meetbridge/interview-gateway/internal/otel"
)

var (
	roomsCreated metric.Int64Counter
	roomsSwept   metric.Int64Counter

	joinsAdmitted metric.Int64Counter
	joinsDenied   metric.Int64Counter

	duplicatePrompts  metric.Int64Counter
	duplicateConfirms metric.Int64Counter
	duplicateCancels  metric.Int64Counter

	chatMessages  metric.Int64Counter
	meetingsEnded metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("gateway.rooms", intotel.PrefixRooms)

	f.Int64Counter(&roomsCreated, "created.total",
		metric.WithDescription("Total rooms lazily created"))

	f.Int64Counter(&roomsSwept, "swept.total",
		metric.WithDescription("Total idle rooms evicted from the registry"))

	f.Int64Counter(&joinsAdmitted, "joins.admitted",
		metric.WithDescription("Total admitted join attempts"))

	f.Int64Counter(&joinsDenied, "joins.denied",
		metric.WithDescription("Total denied join attempts"))

	f.Int64Counter(&duplicatePrompts, "duplicates.prompted",
		metric.WithDescription("Total duplicate-session prompts issued"))

	f.Int64Counter(&duplicateConfirms, "duplicates.confirmed",
		metric.WithDescription("Total duplicate-session replacements confirmed"))

	f.Int64Counter(&duplicateCancels, "duplicates.cancelled",
		metric.WithDescription("Total duplicate-session prompts cancelled"))

	f.Int64Counter(&chatMessages, "chat.messages",
		metric.WithDescription("Total chat messages appended"))

	f.Int64Counter(&meetingsEnded, "meetings.ended",
		metric.WithDescription("Total meetings force-ended"))
}
