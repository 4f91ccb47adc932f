package billing

import "time"

// SweeperConfig holds the pass cadence and batch sizing for the
// background billing sweeper.
type SweeperConfig struct {
	RenewalInterval   time.Duration `env:"SWEEP_RENEWAL_INTERVAL" envDefault:"1h"`   // RenewalInterval is how often due renewals are charged.
	ReconcileInterval time.Duration `env:"SWEEP_RECONCILE_INTERVAL" envDefault:"15m"` // ReconcileInterval is how often stale pending payments are verified.
	GraceInterval     time.Duration `env:"SWEEP_GRACE_INTERVAL" envDefault:"10m"`    // GraceInterval is how often exhausted grace periods are expired.
	ReminderInterval  time.Duration `env:"SWEEP_REMINDER_INTERVAL" envDefault:"1h"`  // ReminderInterval is how often upcoming renewals are scanned.

	// BatchSize caps how many rows each pass pulls per tick.
	BatchSize int `env:"SWEEP_BATCH_SIZE" envDefault:"100"`

	// PendingAge is how long an initialized payment stays untouched
	// before reconciliation verifies it against the gateway.
	PendingAge time.Duration `env:"SWEEP_PENDING_AGE" envDefault:"1h"`

	// ReminderWindow is how far ahead of the period end renewal
	// reminders go out. ReminderTTL keeps the dedup marker alive past
	// the window so a rescan cannot double-send.
	ReminderWindow time.Duration `env:"SWEEP_REMINDER_WINDOW" envDefault:"24h"`
	ReminderTTL    time.Duration `env:"SWEEP_REMINDER_TTL" envDefault:"48h"`
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.RenewalInterval <= 0 {
		c.RenewalInterval = time.Hour
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 15 * time.Minute
	}
	if c.GraceInterval <= 0 {
		c.GraceInterval = 10 * time.Minute
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PendingAge <= 0 {
		c.PendingAge = time.Hour
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = 24 * time.Hour
	}
	if c.ReminderTTL <= 0 {
		c.ReminderTTL = 48 * time.Hour
	}
	return c
}
