package mailer

import "errors"

// Lookup and routing failures the dispatcher branches on. Each maps to one
// row of the outcome table: permanent (cancel), structural (delay + pause
// campaign), or transient (requeue).
var (
	// ErrMailerDisabled marks the administrative off switch; operations
	// return it instead of a zero count so callers can tell "nothing to do"
	// from "turned off".
	ErrMailerDisabled = errors.New("mailer is disabled")

	ErrMessageNotFound   = errors.New("message not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrTemplateNotFound  = errors.New("template not found")

	// ErrNoVerifiedDomain: none of the campaign's assigned domains is
	// verified. Structural, pauses the campaign.
	ErrNoVerifiedDomain = errors.New("no verified domain for campaign")

	// ErrAllIPsRateLimited: verified domains exist but every IP is over its
	// rolling limit. Self-heals, back off instead of pausing.
	ErrAllIPsRateLimited = errors.New("all IPs over send limit")

	// ErrSendCancelled is returned by a Mailer when the campaign vetoes the
	// message between render and transmission.
	ErrSendCancelled = errors.New("send cancelled")
)

// TransientError wraps a transport failure worth retrying without penalty.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient send error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
