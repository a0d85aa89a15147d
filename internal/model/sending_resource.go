// internal/model/sending_resource.go
package model

// SendingResource is an email account or phone number. A nil DailyLimit
// means the resource has no daily quota.
type SendingResource struct {
	ID         string  `db:"id" json:"id"`
	Channel    Channel `db:"channel" json:"channel"`
	Address    string  `db:"address" json:"address"`
	DailyLimit *int    `db:"daily_limit" json:"daily_limit"`
	Active     bool    `db:"active" json:"active"`
}

func (r SendingResource) Unbounded() bool {
	return r.DailyLimit == nil
}
