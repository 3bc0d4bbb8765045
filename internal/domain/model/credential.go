package model

import "time"

// credentialExpiryDelta treats a token as expired slightly before its real
// expiry so an in-flight request does not race the deadline.
const credentialExpiryDelta = 10 * time.Second

// Credential holds the opaque bearer token authorizing mail-provider API calls
// for one service. At most one credential per ServiceID is persisted.
type Credential struct {
	ServiceID           string
	Token               string
	InteractiveObtained bool
	// Expiry is zero when the provider did not report one.
	Expiry    time.Time
	UpdatedAt time.Time
}

// Expired reports whether the credential's expiry has passed at now.
// Credentials without an expiry never expire.
func (c Credential) Expired(now time.Time) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(credentialExpiryDelta).Before(c.Expiry)
}
