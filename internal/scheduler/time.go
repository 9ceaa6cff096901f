package scheduler

import "time"

var timeUTC = time.UTC
