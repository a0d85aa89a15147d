// internal/model/template.go
package model

type Template struct {
	ID             string  `db:"id" json:"id"`
	Channel        Channel `db:"channel" json:"channel"`
	Subject        string  `db:"subject" json:"subject,omitempty"`
	Body           string  `db:"body" json:"body,omitempty"`
	AudioReference string  `db:"audio_url" json:"audio_url,omitempty"`
}
