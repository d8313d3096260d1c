package lifecycle

import (
	"context"
	"fmt"
	"strings"
)

// PublishPolicy decides whether an item may be published. A non-nil error
// vetoes the publish; it is reported wrapped in ErrPublishDenied.
type PublishPolicy interface {
	CanPublish(ctx context.Context, item Item) error
}

// PolicyFunc adapts a function to PublishPolicy.
type PolicyFunc func(ctx context.Context, item Item) error

// CanPublish calls f.
func (f PolicyFunc) CanPublish(ctx context.Context, item Item) error {
	return f(ctx, item)
}

// AllowAll is the default policy; it never vetoes.
var AllowAll PublishPolicy = PolicyFunc(func(context.Context, Item) error { return nil })

// RequireFields vetoes publishing items whose snapshot leaves any of the named
// fields missing, null, or an empty string.
func RequireFields(fields ...string) PublishPolicy {
	return PolicyFunc(func(ctx context.Context, item Item) error {
		snapshot, err := Snapshot(item)
		if err != nil {
			return err
		}
		var missing []string
		for _, f := range fields {
			v, ok := snapshot[f]
			if !ok || v == nil {
				missing = append(missing, f)
				continue
			}
			if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// Policies combines policies; the first veto wins.
func Policies(policies ...PublishPolicy) PublishPolicy {
	return PolicyFunc(func(ctx context.Context, item Item) error {
		for _, p := range policies {
			if err := p.CanPublish(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
}
