package scheduler

import (
	"log"

	"github.com/robfig/cron/v3"
)

// CronDriver wraps a seconds-enabled *cron.Cron, adapted from the
// teacher's internal/infra/scheduler.go. The Learning Controller (C6)
// uses it for the daily (02:00 UTC) and weekly (Sun 01:00 UTC) timers;
// expressions are UTC regardless of process locale, matching the
// teacher's explicit timezone handling elsewhere in its stack.
type CronDriver struct {
	c *cron.Cron
}

// NewCronDriver builds a UTC-anchored, seconds-enabled cron driver.
func NewCronDriver() *CronDriver {
	return &CronDriver{
		c: cron.New(cron.WithSeconds(), cron.WithLocation(timeUTC)),
	}
}

// Schedule registers fn against a 6-field cron expression whose first
// field is seconds; the driver is built with cron.WithSeconds, so 5-field
// expressions are rejected. Returns the entry ID for later inspection.
func (d *CronDriver) Schedule(spec string, fn func()) (cron.EntryID, error) {
	return d.c.AddFunc(spec, fn)
}

// Start begins the cron driver's own goroutine.
func (d *CronDriver) Start() {
	log.Println("[CRON] learning controller timers started")
	d.c.Start()
}

// Stop halts the cron driver and waits for any running job to complete.
func (d *CronDriver) Stop() {
	ctx := d.c.Stop()
	<-ctx.Done()
	log.Println("[CRON] learning controller timers stopped")
}
