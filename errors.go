package airsync

import "errors"

var (
	ErrKeyIO              = errors.New("airsync: key file unavailable")
	ErrDecrypt            = errors.New("airsync: message authentication failed")
	ErrEncryptionDisabled = errors.New("airsync: encryption disabled")
	ErrTransferTimeout    = errors.New("airsync: timed out waiting for chunk acknowledgement")
	ErrHandlerNotFound    = errors.New("airsync: no active handler with that id")
	ErrNilEventHandler    = errors.New("airsync: event handler must not be nil")
)
