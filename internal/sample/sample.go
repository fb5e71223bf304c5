// Package sample provides the "Test" assembly used by the tests and the
// interop command.
package sample

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/fault"
	"github.com/wippyai/wasm-interop/vm"
)

// AssemblyName is the name the sample assembly is loaded under.
const AssemblyName = "Test"

// Exception is a guest fault with its own kind.
type Exception struct {
	Kind    string
	Message string
}

func (e *Exception) Error() string     { return e.Message }
func (e *Exception) FaultKind() string { return e.Kind }

// instance is the state behind objects created by CreateInstance.
type instance struct {
	value string
}

// InstanceClass is the method table of objects created by CreateInstance.
var InstanceClass = &vm.Class{
	Name: "Test.Instance",
	Methods: []vm.Method{
		vm.Func1("SetVar", func(_ context.Context, c *vm.Call, s string) (any, error) {
			self(c).value = s
			return nil, nil
		}),
		vm.Func0("GetVar", func(_ context.Context, c *vm.Call) (string, error) {
			return self(c).value, nil
		}),
		vm.Func1("SetFromOther", func(_ context.Context, c *vm.Call, other *vm.ObjectReference) (any, error) {
			if other == nil {
				return nil, &Exception{Kind: "ArgumentNullException", Message: "other cannot be null"}
			}
			o, ok := other.Value.(*instance)
			if !ok {
				return nil, &Exception{Kind: "InvalidCastException", Message: "other is not a Test.Instance"}
			}
			self(c).value = o.value
			return nil, nil
		}),
		vm.Func0("GetVarAsync", func(_ context.Context, c *vm.Call) (string, error) {
			return self(c).value, nil
		}).AsAsync(),
	},
}

func self(c *vm.Call) *instance {
	return c.Self.Value.(*instance)
}

func echo[T any](name string) vm.Method {
	return vm.Func1(name, func(_ context.Context, _ *vm.Call, v T) (T, error) {
		return v, nil
	})
}

// Assembly builds the sample assembly.
func Assembly() *vm.Assembly {
	return &vm.Assembly{
		Name: AssemblyName,
		Methods: []vm.Method{
			vm.Func2("JoinStrings", func(_ context.Context, _ *vm.Call, a, b string) (string, error) {
				return a + b, nil
			}),
			vm.Func2("JoinStringsAsync", func(_ context.Context, _ *vm.Call, a, b string) (string, error) {
				return a + b, nil
			}).AsAsync(),
			vm.Func2("SumDoubles", func(_ context.Context, _ *vm.Call, a, b float64) (float64, error) {
				return a + b, nil
			}),
			vm.Func2("AddDays", func(_ context.Context, _ *vm.Call, t time.Time, days float64) (time.Time, error) {
				return t.AddDate(0, 0, int(days)), nil
			}),

			echo[uint8]("EchoByte"),
			echo[int16]("EchoInt16"),
			echo[int32]("EchoInt32"),
			echo[int64]("EchoInt64"),
			echo[uint64]("EchoUInt64"),
			echo[float32]("EchoSingle"),
			echo[float64]("EchoDouble"),
			echo[bool]("EchoBool"),
			echo[codec.Char]("EchoChar"),
			echo[any]("EchoWithAlias").WithAlias("EchoAlias"),

			vm.Func2("InvokeJS", func(ctx context.Context, c *vm.Call, identifier string, arg any) (any, error) {
				return c.Host.Invoke(ctx, identifier, arg)
			}),
			vm.Func2("InvokeJSAsync", func(ctx context.Context, c *vm.Call, identifier string, arg any) (any, error) {
				f, err := c.Host.InvokeAsync(ctx, identifier, arg)
				if err != nil {
					return nil, err
				}
				return f.Await(ctx)
			}),
			vm.Func3("InvokeJSUnmarshalled", func(ctx context.Context, c *vm.Call, identifier string, a, b int32) (int32, error) {
				return c.Host.InvokeUnmarshalled(ctx, identifier, a, b, 0)
			}),
			vm.Func2("ForEachJS", func(ctx context.Context, c *vm.Call, identifier string, items []any) ([]any, error) {
				out := make([]any, len(items))
				for i, item := range items {
					v, err := c.Host.Invoke(ctx, identifier, item)
					if err != nil {
						return nil, err
					}
					out[i] = v
				}
				return out, nil
			}),
			vm.Func1("CatchException", func(ctx context.Context, c *vm.Call, identifier string) (string, error) {
				_, err := c.Host.Invoke(ctx, identifier)
				if err == nil {
					return "", &Exception{Kind: "InvalidOperationException", Message: "expected " + identifier + " to fail"}
				}
				var remote *fault.RemoteError
				if stderrors.As(err, &remote) {
					return remote.Kind() + ": " + remote.Message(), nil
				}
				return err.Error(), nil
			}),
			vm.Func2("Throw", func(_ context.Context, _ *vm.Call, kind, message string) (any, error) {
				return nil, &Exception{Kind: kind, Message: message}
			}),
			vm.Func1("Panic", func(_ context.Context, _ *vm.Call, message string) (any, error) {
				panic(message)
			}),
			vm.Action("ReportCritical", []codec.TypeInfo{codec.DescribeFor[string](false)},
				func(ctx context.Context, c *vm.Call) (any, error) {
					msg, err := codec.As[string](c.Arg(0))
					if err != nil {
						return nil, err
					}
					return nil, c.Host.ReportCriticalError(ctx, msg)
				}),

			vm.Func1("CreateInstance", func(_ context.Context, _ *vm.Call, value string) (*vm.ObjectReference, error) {
				return vm.NewObjectReference(&instance{value: value}, InstanceClass), nil
			}),

			vm.Func2("CreateHostObject", func(ctx context.Context, c *vm.Call, identifier string, arg any) (*vm.HostObjectRef, error) {
				return c.Host.InvokeObject(ctx, identifier, arg)
			}),
			vm.Func3("InvokeHostObject", func(ctx context.Context, _ *vm.Call, obj *vm.HostObjectRef, method string, arg any) (any, error) {
				if obj == nil {
					return nil, &Exception{Kind: "ArgumentNullException", Message: "obj cannot be null"}
				}
				return obj.Invoke(ctx, method, arg)
			}),
			vm.Action("DisposeHostObject", []codec.TypeInfo{codec.DescribeFor[*vm.HostObjectRef](false)},
				func(ctx context.Context, c *vm.Call) (any, error) {
					obj, err := codec.As[*vm.HostObjectRef](c.Arg(0))
					if err != nil || obj == nil {
						return nil, err
					}
					return nil, obj.Dispose(ctx)
				}),

			vm.Func1("ReceiveBytes", func(_ context.Context, _ *vm.Call, data []byte) (string, error) {
				return string(data), nil
			}),
			vm.Func1("SendBytes", func(_ context.Context, _ *vm.Call, text string) ([]byte, error) {
				return []byte(text), nil
			}),
			vm.Func1("ReverseBytes", func(_ context.Context, _ *vm.Call, data []byte) ([]byte, error) {
				out := make([]byte, len(data))
				for i, b := range data {
					out[len(data)-1-i] = b
				}
				return out, nil
			}),
		},
	}
}
