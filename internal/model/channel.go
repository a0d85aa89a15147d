// internal/model/channel.go
package model

import "fmt"

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelVoice:
		return true
	}
	return false
}

// ParseChannel accepts the channel names used by the console pages, including
// "dial" for voice.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "email":
		return ChannelEmail, nil
	case "sms":
		return ChannelSMS, nil
	case "voice", "dial":
		return ChannelVoice, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}
