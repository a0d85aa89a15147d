// internal/model/customer.go
package model

import "strings"

type Customer struct {
	ID        string `db:"id" json:"id"`
	Email     string `db:"email" json:"email"`
	Phone     string `db:"phone" json:"phone"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
}

// Recipient is one contact point of one customer on one channel.
type Recipient struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	Channel    Channel `json:"channel"`
	Address    string  `json:"address"`
}

// ContactFor returns the address the channel delivers to. Email needs an
// email address; SMS and voice need a phone number.
func (c Customer) ContactFor(ch Channel) (string, bool) {
	var addr string
	switch ch {
	case ChannelEmail:
		addr = strings.TrimSpace(c.Email)
	case ChannelSMS, ChannelVoice:
		addr = strings.TrimSpace(c.Phone)
	}
	return addr, addr != ""
}
