package fixture

import (
	"fmt"
	"reflect"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

// celMaxArity bounds the overloads declared for registry functions.
const celMaxArity = 3

// ruleVariables lists the node bindings every rule may reference.
var ruleVariables = []string{"name", "path", "kind", "lifecycle", "tags", "node"}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *celEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, ruleEngineError("cel", errEmptyRule)
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, ruleError("cel", expression, "", err)
	}
	return &celCompiledRule{
		program:    program,
		expression: expression,
	}, nil
}

func (e *celEvaluator) loadOrCompile(expression string) (celgo.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get("cel:" + expression); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set("cel:"+expression, prg)
	}
	return prg, nil
}

func (e *celEvaluator) buildEnv() (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("metadata", celgo.DynType),
	}
	for _, name := range ruleVariables {
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string",
				[]*celgo.Type{celgo.StringType},
				celgo.DynType,
				celgo.UnaryBinding(func(name ref.Val) ref.Val {
					return e.invoke(name.Value())
				}),
			),
			celgo.Overload("call_string_list",
				[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
				celgo.DynType,
				celgo.BinaryBinding(func(name, args ref.Val) ref.Val {
					native, err := args.ConvertToNative(reflect.TypeOf([]any{}))
					if err != nil {
						return types.NewErr("fixture: call arguments: %v", err)
					}
					list, _ := native.([]any)
					return e.invoke(name.Value(), list...)
				}),
			),
		))
		for _, name := range e.registry.Names() {
			opts = append(opts, e.functionDecl(name))
		}
	}
	return celgo.NewEnv(opts...)
}

// functionDecl exposes a registry function directly, with one overload per
// arity up to celMaxArity.
func (e *celEvaluator) functionDecl(name string) celgo.EnvOption {
	overloads := make([]celgo.FunctionOpt, 0, celMaxArity)
	for arity := 1; arity <= celMaxArity; arity++ {
		argTypes := make([]*celgo.Type, arity)
		for i := range argTypes {
			argTypes[i] = celgo.DynType
		}
		fn := name
		overloads = append(overloads, celgo.Overload(
			fmt.Sprintf("%s_dyn_%d", name, arity),
			argTypes,
			celgo.DynType,
			celgo.FunctionBinding(func(values ...ref.Val) ref.Val {
				args := make([]any, 0, len(values))
				for _, val := range values {
					args = append(args, val.Value())
				}
				return e.invoke(fn, args...)
			}),
		))
	}
	return celgo.Function(name, overloads...)
}

func (e *celEvaluator) invoke(name any, args ...any) ref.Val {
	fn, ok := name.(string)
	if !ok {
		return types.NewErr("fixture: call name must be string")
	}
	result, err := e.registry.Call(fn, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

func activation(ctx RuleContext) map[string]any {
	vars := map[string]any{
		"now":      ctx.timestamp(),
		"metadata": ctx.Metadata,
	}
	for _, name := range ruleVariables {
		vars[name] = nil
	}
	for key, value := range ctx.Snapshot {
		vars[key] = value
	}
	return vars
}

type celCompiledRule struct {
	program    celgo.Program
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.program == nil {
		return nil, ruleEngineError("cel", errNoProgram)
	}
	ctx = ctx.withDefaults()
	out, _, err := r.program.Eval(activation(ctx))
	if err != nil {
		return nil, ruleError("cel", r.expression, ctx.label(), err)
	}
	return out.Value(), nil
}
