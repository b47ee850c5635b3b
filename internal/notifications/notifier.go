package notifications

import "context"

// Channel other services subscribe to for agency name changes.
const AgencyNameChangeChannel = "agency-name-change"

type AgencyNameChangeInput struct {
	LoginID    string
	AgencyName string
}

// Payload is the wire form consumers expect: "<loginId>:<newAgencyName>".
func (in AgencyNameChangeInput) Payload() string {
	return in.LoginID + ":" + in.AgencyName
}

type Notifier interface {
	SendAgencyNameChange(ctx context.Context, input AgencyNameChangeInput) error
}
