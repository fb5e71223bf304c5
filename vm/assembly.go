package vm

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/errors"
)

// Thunk is the typed entry of one guest method.
type Thunk func(ctx context.Context, call *Call) (any, error)

// Call carries one invocation of a guest method.
type Call struct {
	// Host is the guest's view of the host: its functions and objects.
	Host *Host
	// Self is the target instance for instance methods, nil otherwise.
	Self *ObjectReference
	Args []any
}

// Arg returns argument i, or nil when fewer were passed.
func (c *Call) Arg(i int) any {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Method is one entry of an assembly's method table.
type Method struct {
	Name   string
	Alias  string
	Params []codec.TypeInfo
	Result codec.TypeInfo
	Async  bool
	Thunk  Thunk
}

// Identifier returns the alias when one is declared, otherwise the name.
func (m Method) Identifier() string {
	if m.Alias != "" {
		return m.Alias
	}
	return m.Name
}

// WithAlias returns m invokable under alias instead of its name.
func (m Method) WithAlias(alias string) Method {
	m.Alias = alias
	return m
}

// AsAsync returns m completing through the asynchronous path. Its result is
// described as awaitable.
func (m Method) AsAsync() Method {
	m.Async = true
	m.Result.Awaitable = true
	return m
}

func (m Method) paramKinds() []codec.Kind {
	kinds := make([]codec.Kind, len(m.Params))
	for i, p := range m.Params {
		kinds[i] = p.Kind
	}
	return kinds
}

// Class is the method table of a guest object type.
type Class struct {
	Name    string
	Methods []Method
}

func (c *Class) method(identifier string) (*Method, bool) {
	for i := range c.Methods {
		if c.Methods[i].Identifier() == identifier {
			return &c.Methods[i], true
		}
	}
	return nil, false
}

// Assembly is a named set of static methods.
type Assembly struct {
	Name    string
	Methods []Method
}

// Manifest describes every static method of assemblies.
func Manifest(assemblies []*Assembly) []dispatch.MethodInfo {
	var out []dispatch.MethodInfo
	for _, asm := range assemblies {
		for _, m := range asm.Methods {
			out = append(out, dispatch.MethodInfo{
				Assembly: asm.Name,
				Name:     m.Name,
				Alias:    m.Alias,
				Params:   m.Params,
				Result:   m.Result,
				Async:    m.Async,
			})
		}
	}
	return out
}

// Action declares a method with no result.
func Action(name string, params []codec.TypeInfo, fn Thunk) Method {
	return Method{
		Name:   name,
		Params: params,
		Result: codec.TypeInfo{Kind: codec.KindVoid},
		Thunk: func(ctx context.Context, call *Call) (any, error) {
			_, err := fn(ctx, call)
			return nil, err
		},
	}
}

// Func0 declares a method with no parameters.
func Func0[R any](name string, fn func(ctx context.Context, call *Call) (R, error)) Method {
	return Method{
		Name:   name,
		Result: codec.DescribeFor[R](false),
		Thunk: func(ctx context.Context, call *Call) (any, error) {
			return fn(ctx, call)
		},
	}
}

// Func1 declares a method with one parameter.
func Func1[A, R any](name string, fn func(ctx context.Context, call *Call, a A) (R, error)) Method {
	return Method{
		Name:   name,
		Params: []codec.TypeInfo{codec.DescribeFor[A](false)},
		Result: codec.DescribeFor[R](false),
		Thunk: func(ctx context.Context, call *Call) (any, error) {
			a, err := arg[A](call, 0)
			if err != nil {
				return nil, err
			}
			return fn(ctx, call, a)
		},
	}
}

// Func2 declares a method with two parameters.
func Func2[A, B, R any](name string, fn func(ctx context.Context, call *Call, a A, b B) (R, error)) Method {
	return Method{
		Name:   name,
		Params: []codec.TypeInfo{codec.DescribeFor[A](false), codec.DescribeFor[B](false)},
		Result: codec.DescribeFor[R](false),
		Thunk: func(ctx context.Context, call *Call) (any, error) {
			a, err := arg[A](call, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](call, 1)
			if err != nil {
				return nil, err
			}
			return fn(ctx, call, a, b)
		},
	}
}

// Func3 declares a method with three parameters.
func Func3[A, B, C, R any](name string, fn func(ctx context.Context, call *Call, a A, b B, c C) (R, error)) Method {
	return Method{
		Name: name,
		Params: []codec.TypeInfo{
			codec.DescribeFor[A](false),
			codec.DescribeFor[B](false),
			codec.DescribeFor[C](false),
		},
		Result: codec.DescribeFor[R](false),
		Thunk: func(ctx context.Context, call *Call) (any, error) {
			a, err := arg[A](call, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](call, 1)
			if err != nil {
				return nil, err
			}
			c, err := arg[C](call, 2)
			if err != nil {
				return nil, err
			}
			return fn(ctx, call, a, b, c)
		},
	}
}

func arg[T any](call *Call, i int) (T, error) {
	v, err := codec.As[T](call.Arg(i))
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) {
			e.Path = append([]string{"args", strconv.Itoa(i)}, e.Path...)
		}
	}
	return v, err
}
