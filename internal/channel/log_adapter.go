package channel

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-scheduler/internal/model"
)

// LogAdapter records deliveries in the log instead of contacting a provider.
// With no channels set it accepts all of them.
type LogAdapter struct {
	Channels []model.Channel
	Log      zerolog.Logger
}

func NewLogAdapter(log zerolog.Logger, channels ...model.Channel) *LogAdapter {
	return &LogAdapter{Channels: channels, Log: log}
}

func (a *LogAdapter) Supports(ch model.Channel) bool {
	if len(a.Channels) == 0 {
		return ch.IsValid()
	}
	for _, c := range a.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func (a *LogAdapter) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := a.Log.Info().
		Str("schedule_id", msg.ScheduleID).
		Str("channel", msg.Channel.String()).
		Str("from", msg.From).
		Str("to", msg.Address)
	if msg.Template != nil {
		ev = ev.Str("template_id", msg.Template.ID)
	}
	ev.Msg("message delivered")
	return nil
}
