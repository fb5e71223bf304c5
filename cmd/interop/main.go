package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-interop/codec"
	"github.com/wippyai/wasm-interop/config"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/internal/sample"
	"github.com/wippyai/wasm-interop/runtime"
)

func main() {
	var (
		cfgFile     = flag.String("config", "", "Path to a TOML configuration file")
		assembly    = flag.String("assembly", sample.AssemblyName, "Assembly to call into")
		method      = flag.String("method", "", "Method to call")
		argList     = flag.String("args", "", "Arguments (comma-separated), converted to the method's parameter kinds")
		async       = flag.Bool("async", false, "Call through the asynchronous path")
		list        = flag.Bool("list", false, "List loaded methods and exit")
		schema      = flag.Bool("schema", false, "Print the configuration JSON schema and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *schema {
		data, err := config.Schema()
		if err != nil {
			fail(err)
		}
		fmt.Println(string(data))
		return
	}

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		fail(err)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fail(fmt.Errorf("interactive mode needs a terminal"))
		}
		if err := runInteractive(cfg); err != nil {
			fail(err)
		}
		return
	}

	if !*list && *method == "" {
		fmt.Fprintln(os.Stderr, "Usage: interop -method <name> [-assembly name] [-args a,b] [-async] [-config file.toml]")
		fmt.Fprintln(os.Stderr, "       interop -list")
		fmt.Fprintln(os.Stderr, "       interop -schema")
		fmt.Fprintln(os.Stderr, "       interop -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(cfg, *assembly, *method, *argList, *async, *list); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newRuntime boots the sample assembly with an "echo" host function that
// guest code can reach through InvokeJS.
func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime.Runtime, error) {
	rt, err := runtime.New(ctx,
		runtime.WithConfig(cfg),
		runtime.WithLogger(logger),
		runtime.WithAssemblies(sample.Assembly()),
		runtime.WithCriticalErrorHook(func(msg string) {
			logger.Error("guest reported a critical error", zap.String("message", msg))
		}),
	)
	if err != nil {
		return nil, err
	}
	err = rt.RegisterFunction("echo", func(ctx context.Context, call *dispatch.Call) (any, error) {
		return call.Arg(0), nil
	})
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func run(cfg *config.Config, assembly, method, argList string, async, listOnly bool) error {
	ctx := context.Background()

	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	if listOnly {
		for _, asm := range rt.Methods().Assemblies() {
			fmt.Printf("%s:\n", asm)
			for _, m := range rt.Methods().Methods(asm) {
				fmt.Printf("  %s\n", signature(m))
			}
		}
		return nil
	}

	m, err := rt.Methods().Resolve(assembly, method)
	if err != nil {
		return err
	}
	args, err := parseArgs(splitArgs(argList), m.Params)
	if err != nil {
		return err
	}

	fmt.Printf("Calling %s.%s...\n", assembly, m.Identifier())
	result, err := call(ctx, rt, cfg.AwaitTimeout.Std(), assembly, m.Identifier(), async || m.Async, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	fmt.Printf("Result: %v\n", result)
	return nil
}

// call invokes a method, awaiting asynchronous calls for at most timeout.
func call(ctx context.Context, rt *runtime.Runtime, timeout time.Duration, assembly, method string, async bool, args []any) (any, error) {
	if !async {
		return rt.Invoke(ctx, assembly, method, args...)
	}
	fut, err := rt.InvokeAsync(ctx, assembly, method, args...)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return fut.Await(ctx)
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseArgs converts command-line strings to the kinds the method expects.
func parseArgs(values []string, params []codec.TypeInfo) ([]any, error) {
	if len(values) != len(params) {
		return nil, fmt.Errorf("expected %d argument(s), got %d", len(params), len(values))
	}
	args := make([]any, len(values))
	for i, v := range values {
		a, err := parseArg(v, params[i].Kind)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = a
	}
	return args, nil
}

func parseArg(value string, kind codec.Kind) (any, error) {
	switch kind {
	case codec.KindNumber:
		return strconv.ParseFloat(value, 64)
	case codec.KindBool:
		return strconv.ParseBool(value)
	case codec.KindDate:
		return time.Parse(time.RFC3339, value)
	default:
		return value, nil
	}
}

func signature(m dispatch.MethodInfo) string {
	params := make([]string, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("%s(%s) -> %s", m.Identifier(), strings.Join(params, ", "), m.Result)
}
