package durations

import "time"

const (
	DefaultDriftPollInterval   = time.Second * 15
	DefaultSourcePollInterval  = time.Second * 15
	DefaultHealthCheckInterval = time.Second * 2
	DefaultHealthTimeout       = time.Minute * 5
	DefaultRetryBackoffBase    = time.Second * 5
	DefaultRetryBackoffMax     = time.Minute * 3
	// DeleteConfirmInterval is the delay between checks that owned
	// resources of a deleted application are actually gone.
	DeleteConfirmInterval = time.Millisecond * 500
	DeleteConfirmTimeout  = time.Minute * 2
	ServerShutdownTimeout = time.Second * 10
)
