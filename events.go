package fixture

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-fixture/pkg/activity"
)

func (c *Coordinator) eventInput(node *Node, composer *Composer, scope Scope) activity.FixtureEventInput {
	input := activity.FixtureEventInput{
		Scope:      scope.String(),
		OccurredAt: time.Now().UTC(),
	}
	if node != nil {
		input.NodeID = node.ID()
		input.NodePath = node.Path()
	}
	if composer != nil {
		input.ComposerID = composer.ID()
		input.Descriptor = composer.Descriptor().Name
	}
	return input
}

func (c *Coordinator) emitBuilt(ctx context.Context, node *Node, composer *Composer, scope Scope) {
	c.emit(ctx, activity.BuildFixtureBuiltEvent(c.eventInput(node, composer, scope)))
}

func (c *Coordinator) emitInjected(ctx context.Context, node *Node, composer *Composer, scope Scope, target any) {
	input := c.eventInput(node, composer, scope)
	input.Metadata = map[string]any{"target": fmt.Sprintf("%T", target)}
	c.emit(ctx, activity.BuildFixtureInjectedEvent(input))
}

func (c *Coordinator) emitReleased(ctx context.Context, node *Node, composer *Composer, scope Scope) {
	c.emit(ctx, activity.BuildFixtureReleasedEvent(c.eventInput(node, composer, scope)))
}

func (c *Coordinator) emitFailed(ctx context.Context, node *Node, composer *Composer, scope Scope, stage Stage, err error) {
	input := c.eventInput(node, composer, scope)
	input.Stage = string(stage)
	input.Err = err
	c.emit(ctx, activity.BuildFixtureFailedEvent(input))
}

// emit never fails the lifecycle; hook errors are logged and dropped.
func (c *Coordinator) emit(ctx context.Context, event activity.Event) {
	if !c.emitter.Enabled() {
		return
	}
	if err := c.emitter.Emit(ctx, event); err != nil {
		c.logger.LogLifecycle(LifecycleEvent{
			Stage:    Stage("activity"),
			NodePath: event.NodePath,
			Err:      err,
		})
	}
}
