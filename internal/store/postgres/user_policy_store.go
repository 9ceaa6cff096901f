package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fxadvisor/internal/domain"
)

// UserPolicyStore implements domain.UserPolicyStore. EnabledTimeframes,
// PreferredPairs and MuteWindows are stored as JSONB, mirroring the
// teacher's use of jsonb columns for the bot's flexible per-user settings.
type UserPolicyStore struct {
	db *pgxpool.Pool
}

// NewUserPolicyStore builds a UserPolicyStore.
func NewUserPolicyStore(db *pgxpool.Pool) *UserPolicyStore {
	return &UserPolicyStore{db: db}
}

// defaultPolicy is returned when a user has never configured preferences.
func defaultPolicy(userID string) domain.UserPolicy {
	return domain.UserPolicy{
		UserID:               userID,
		NotificationsEnabled: true,
		MinConfidence:        0.6,
		DailyQuota:           20,
		CooldownMinutes:      15,
	}
}

// Get returns userID's policy, or sane defaults if none is configured.
func (s *UserPolicyStore) Get(ctx context.Context, userID string) (domain.UserPolicy, error) {
	query := `
		SELECT user_id, notifications_enabled, enabled_timeframes, preferred_pairs,
		       min_confidence, ml_only, daily_quota, cooldown_minutes, mute_windows
		FROM user_policies WHERE user_id = $1
	`
	var p domain.UserPolicy
	var timeframesJSON, pairsJSON, windowsJSON []byte
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID, &p.NotificationsEnabled, &timeframesJSON, &pairsJSON,
		&p.MinConfidence, &p.MLOnly, &p.DailyQuota, &p.CooldownMinutes, &windowsJSON,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return defaultPolicy(userID), nil
		}
		return domain.UserPolicy{}, fmt.Errorf("failed to get user policy: %w", err)
	}

	var tfStrings []string
	if err := json.Unmarshal(timeframesJSON, &tfStrings); err != nil {
		return domain.UserPolicy{}, fmt.Errorf("failed to decode enabled_timeframes: %w", err)
	}
	for _, tf := range tfStrings {
		p.EnabledTimeframes = append(p.EnabledTimeframes, domain.Timeframe(tf))
	}
	if err := json.Unmarshal(pairsJSON, &p.PreferredPairs); err != nil {
		return domain.UserPolicy{}, fmt.Errorf("failed to decode preferred_pairs: %w", err)
	}
	if err := json.Unmarshal(windowsJSON, &p.MuteWindows); err != nil {
		return domain.UserPolicy{}, fmt.Errorf("failed to decode mute_windows: %w", err)
	}
	return p, nil
}

// Upsert writes userID's policy.
func (s *UserPolicyStore) Upsert(ctx context.Context, p domain.UserPolicy) error {
	tfStrings := make([]string, len(p.EnabledTimeframes))
	for i, tf := range p.EnabledTimeframes {
		tfStrings[i] = string(tf)
	}
	timeframesJSON, err := json.Marshal(tfStrings)
	if err != nil {
		return fmt.Errorf("failed to encode enabled_timeframes: %w", err)
	}
	pairsJSON, err := json.Marshal(p.PreferredPairs)
	if err != nil {
		return fmt.Errorf("failed to encode preferred_pairs: %w", err)
	}
	windowsJSON, err := json.Marshal(p.MuteWindows)
	if err != nil {
		return fmt.Errorf("failed to encode mute_windows: %w", err)
	}

	query := `
		INSERT INTO user_policies (
			user_id, notifications_enabled, enabled_timeframes, preferred_pairs,
			min_confidence, ml_only, daily_quota, cooldown_minutes, mute_windows
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (user_id) DO UPDATE SET
			notifications_enabled = EXCLUDED.notifications_enabled,
			enabled_timeframes = EXCLUDED.enabled_timeframes,
			preferred_pairs = EXCLUDED.preferred_pairs,
			min_confidence = EXCLUDED.min_confidence,
			ml_only = EXCLUDED.ml_only,
			daily_quota = EXCLUDED.daily_quota,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			mute_windows = EXCLUDED.mute_windows
	`
	_, err = s.db.Exec(ctx, query, p.UserID, p.NotificationsEnabled, timeframesJSON, pairsJSON,
		p.MinConfidence, p.MLOnly, p.DailyQuota, p.CooldownMinutes, windowsJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert user policy: %w", err)
	}
	return nil
}
