package playbook

import "time"

// FeedbackOpts carries the optional fields of a feedback event.
type FeedbackOpts struct {
	// Timestamp defaults to now when zero. Future timestamps are stored as
	// given; decay clamps them to the present.
	Timestamp time.Time

	// SessionPath identifies the originating session.
	SessionPath string

	// Reason explains harmful feedback.
	Reason string

	// Context carries free-form detail.
	Context string

	// Weight scales the event's decay contribution. Zero means 1.
	Weight float64
}

// RecordFeedbackEvent appends a feedback event to the bullet with the given
// id, increments the matching denormalized counter, and touches updatedAt.
// Helpful events also update lastValidatedAt. A missing id returns false
// with no mutation.
func RecordFeedbackEvent(pb *Playbook, id string, feedbackType FeedbackType, opts FeedbackOpts) bool {
	b := FindBullet(pb, id)
	if b == nil {
		return false
	}

	now := time.Now().UTC()
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = now
	}

	b.FeedbackEvents = append(b.FeedbackEvents, FeedbackEvent{
		Type:        feedbackType,
		Timestamp:   ts,
		SessionPath: opts.SessionPath,
		Reason:      opts.Reason,
		Context:     opts.Context,
		Weight:      opts.Weight,
	})

	switch feedbackType {
	case FeedbackHelpful:
		b.HelpfulCount++
		b.LastValidatedAt = &now
	case FeedbackHarmful:
		b.HarmfulCount++
	}
	b.UpdatedAt = now

	return true
}

// RebuildCounters regenerates the denormalized counters from the events,
// which are the single source of truth.
func RebuildCounters(b *Bullet) {
	helpful, harmful := 0, 0
	for _, e := range b.FeedbackEvents {
		switch e.Type {
		case FeedbackHelpful:
			helpful++
		case FeedbackHarmful:
			harmful++
		}
	}
	b.HelpfulCount = helpful
	b.HarmfulCount = harmful
}
