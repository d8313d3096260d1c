package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

func TestNextStatus(t *testing.T) {
	const (
		draft     = lifecycle.ContentStatusDraft
		pending   = lifecycle.ContentStatusPending
		published = lifecycle.ContentStatusPublished
	)
	tests := []struct {
		from lifecycle.ContentStatus
		t    lifecycle.Transition
		want lifecycle.ContentStatus // empty means rejected
	}{
		{draft, lifecycle.TransitionRequestApproval, pending},
		{pending, lifecycle.TransitionRequestApproval, ""},
		{published, lifecycle.TransitionRequestApproval, ""},

		{draft, lifecycle.TransitionPublish, published},
		{pending, lifecycle.TransitionPublish, published},
		{published, lifecycle.TransitionPublish, ""},

		{draft, lifecycle.TransitionUnpublish, ""},
		{pending, lifecycle.TransitionUnpublish, draft},
		{published, lifecycle.TransitionUnpublish, draft},

		{draft, lifecycle.TransitionSchedule, pending},
		{pending, lifecycle.TransitionSchedule, pending},
		{published, lifecycle.TransitionSchedule, pending},

		{draft, lifecycle.TransitionReject, draft},
		{pending, lifecycle.TransitionReject, draft},
		{published, lifecycle.TransitionReject, draft},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.t), func(t *testing.T) {
			got, err := lifecycle.NextStatus(tt.from, tt.t)
			if tt.want == "" {
				assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
				assert.False(t, lifecycle.CanTransition(tt.from, tt.t))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, lifecycle.CanTransition(tt.from, tt.t))
		})
	}
}

func TestNextStatus_Unknown(t *testing.T) {
	_, err := lifecycle.NextStatus("archived", lifecycle.TransitionPublish)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = lifecycle.NextStatus(lifecycle.ContentStatusDraft, "delete")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestTransitionError(t *testing.T) {
	_, err := lifecycle.NextStatus(lifecycle.ContentStatusPublished, lifecycle.TransitionPublish)
	var terr *lifecycle.TransitionError
	assert.ErrorAs(t, err, &terr)
	assert.Equal(t, lifecycle.ContentStatusPublished, terr.From)
	assert.Equal(t, lifecycle.TransitionPublish, terr.Event)
	assert.Contains(t, err.Error(), "cannot publish from published")
}
