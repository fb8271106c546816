package domain

import "time"

// InboundMessage is a message received from the carrier gateway.
// Only Content, MediaURL and FromNumber drive routing; the remaining
// fields are carried through for logging.
type InboundMessage struct {
	RequestID     string
	AccountEmail  string
	Content       string
	MediaURL      string
	IsOutbound    bool
	Status        string
	ErrorCode     *int
	ErrorMessage  *string
	MessageHandle string
	DateSent      string
	DateUpdated   string
	FromNumber    string
	Number        string
	ToNumber      string
	WasDowngraded *bool
	Plan          string
	ReceivedAt    time.Time
}

// CallbackStatus is a delivery status report for a message we sent.
type CallbackStatus struct {
	AccountEmail  string
	Content       string
	IsOutbound    bool
	Status        string
	ErrorCode     *int
	ErrorMessage  *string
	MessageHandle string
	DateSent      string
	DateUpdated   string
	FromNumber    string
	Number        string
	ToNumber      string
	WasDowngraded *bool
	Plan          string
}

// OutboundMessage is a reply to deliver to a phone number or handle.
type OutboundMessage struct {
	Number    string
	Content   string
	SendStyle string // optional decorative style, empty for none
}
