package worker

import (
	"errors"
	"fmt"
	"time"
)

// Config controls the job worker. The defaults suit the billing jobs: small
// handlers that talk to SMTP or object storage and finish in seconds.
type Config struct {
	Concurrency       int           // polling goroutines
	PollInterval      time.Duration // wait between dequeue attempts while the queue is empty
	JobTimeout        time.Duration // deadline for a single Handle call
	ShutdownTimeout   time.Duration // how long Stop waits for in-flight jobs
	StaleJobThreshold time.Duration // running jobs older than this are re-queued on Start

	// RequiredJobTypes must all have a handler before Start. The webhook
	// processor commits these jobs in its own transaction, so a missing
	// handler would leave them stuck in the queue.
	RequiredJobTypes []string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       2,
		PollInterval:      2 * time.Second,
		JobTimeout:        time.Minute,
		ShutdownTimeout:   30 * time.Second,
		StaleJobThreshold: 5 * time.Minute,
		RequiredJobTypes:  []string{JobTypeBillingEmail},
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 || c.Concurrency > 32 {
		errs = append(errs, fmt.Errorf("concurrency must be between 1 and 32, got %d", c.Concurrency))
	}
	if c.PollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("poll interval must be at least 100ms, got %v", c.PollInterval))
	}
	if c.JobTimeout < time.Second {
		errs = append(errs, fmt.Errorf("job timeout must be at least 1s, got %v", c.JobTimeout))
	}
	if c.ShutdownTimeout < time.Second {
		errs = append(errs, fmt.Errorf("shutdown timeout must be at least 1s, got %v", c.ShutdownTimeout))
	}
	// A job still inside its timeout must not be handed to a second worker.
	if c.StaleJobThreshold <= c.JobTimeout {
		errs = append(errs, fmt.Errorf("stale job threshold %v must exceed job timeout %v", c.StaleJobThreshold, c.JobTimeout))
	}
	for _, t := range c.RequiredJobTypes {
		if !isKnownJobType(t) {
			errs = append(errs, fmt.Errorf("unknown required job type %q", t))
		}
	}
	return errors.Join(errs...)
}
