package fixture

import "time"

// RuleContext carries the inputs a scope rule is evaluated against.
type RuleContext struct {
	// Snapshot holds the node bindings exposed as top level variables:
	// name, path, kind, lifecycle, tags and node (the node metadata).
	Snapshot map[string]any
	Now      *time.Time
	Metadata map[string]any
	NodePath string
}

func ruleContextFor(node *Node, metadata map[string]any) RuleContext {
	return RuleContext{
		Snapshot: node.ruleBindings(),
		Metadata: copyMetadata(metadata),
		NodePath: node.Path(),
	}
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Snapshot == nil {
		ctx.Snapshot = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	return *ctx.withDefaults().Now
}

// variables returns the top level names a rule can reference: the snapshot
// bindings plus now and metadata.
func (ctx RuleContext) variables() map[string]any {
	vars := make(map[string]any, len(ctx.Snapshot)+2)
	for key, value := range ctx.Snapshot {
		vars[key] = value
	}
	vars["now"] = ctx.timestamp()
	vars["metadata"] = ctx.Metadata
	return vars
}

func (ctx RuleContext) label() string {
	if ctx.NodePath != "" {
		return ctx.NodePath
	}
	return "unknown"
}

// Evaluator executes scope rule expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}
