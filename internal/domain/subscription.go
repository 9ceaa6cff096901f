package domain

import "time"

// MaxSubscriptionsPerUser is the hard cap enforced by Subscription CRUD.
const MaxSubscriptionsPerUser = 5

// Subscription ties a user to a (pair, timeframe) they want advisories for.
// Unique by (UserID, Pair, Timeframe).
type Subscription struct {
	ID        string
	UserID    string
	DiscordID *string
	Pair      string
	Timeframe Timeframe
	ChannelID *string
	CreatedAt time.Time
}

// Key returns the (pair, timeframe) this subscription watches.
func (s Subscription) Key() CacheKey {
	return CacheKey{Pair: s.Pair, Timeframe: s.Timeframe}
}

// MuteWindow is a daily recurring quiet period, expressed in minutes since
// local midnight, inclusive start, exclusive end, wrapping past 24h if
// End < Start.
type MuteWindow struct {
	StartMinute int
	EndMinute   int
}

// Contains reports whether minuteOfDay falls inside the window.
func (w MuteWindow) Contains(minuteOfDay int) bool {
	if w.StartMinute <= w.EndMinute {
		return minuteOfDay >= w.StartMinute && minuteOfDay < w.EndMinute
	}
	// wraps midnight
	return minuteOfDay >= w.StartMinute || minuteOfDay < w.EndMinute
}

// UserPolicy governs per-user delivery eligibility (C4) and notification
// taste for C5.
type UserPolicy struct {
	UserID              string
	NotificationsEnabled bool
	EnabledTimeframes    []Timeframe
	PreferredPairs       []string
	MinConfidence        float64
	MLOnly               bool
	DailyQuota           int
	CooldownMinutes      int
	MuteWindows          []MuteWindow
}

// AllowsTimeframe reports whether tf is in the enabled set, treating an
// empty set as "all timeframes allowed".
func (p UserPolicy) AllowsTimeframe(tf Timeframe) bool {
	if len(p.EnabledTimeframes) == 0 {
		return true
	}
	for _, t := range p.EnabledTimeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// IsMuted reports whether t falls inside any configured mute window, using
// t's own location for minute-of-day computation.
func (p UserPolicy) IsMuted(t time.Time) bool {
	minuteOfDay := t.Hour()*60 + t.Minute()
	for _, w := range p.MuteWindows {
		if w.Contains(minuteOfDay) {
			return true
		}
	}
	return false
}
