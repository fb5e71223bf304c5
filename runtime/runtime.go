package runtime

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-interop/config"
	"github.com/wippyai/wasm-interop/dispatch"
	"github.com/wippyai/wasm-interop/errors"
	"github.com/wippyai/wasm-interop/internal/shim"
	"github.com/wippyai/wasm-interop/vm"
)

// ShimModule is the name the guest shim is instantiated under.
const ShimModule = "dotnet"

// Runtime is one guest VM together with its dispatcher. All boundary state
// lives here; two runtimes share nothing.
type Runtime struct {
	logger     *zap.Logger
	cfg        *config.Config
	engine     wazero.Runtime
	hostModule api.Module
	shim       api.Module
	dispatcher *dispatch.Dispatcher
	vm         *vm.VM
}

type options struct {
	logger     *zap.Logger
	cfg        *config.Config
	assemblies []*vm.Assembly
	onCritical func(string)
}

// Option configures New.
type Option func(*options)

// WithAssemblies loads assemblies into the guest.
func WithAssemblies(asm ...*vm.Assembly) Option {
	return func(o *options) {
		o.assemblies = append(o.assemblies, asm...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithCriticalErrorHook is called with every critical error the guest reports.
func WithCriticalErrorHook(fn func(message string)) Option {
	return func(o *options) {
		o.onCritical = fn
	}
}

// New boots a guest: it registers the host entry points, instantiates the
// shim that owns linear memory, starts the VM with its assemblies and
// attaches the dispatcher to it.
func New(ctx context.Context, opts ...Option) (*Runtime, error) {
	o := &options{logger: zap.NewNop(), cfg: config.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	rc := wazero.NewRuntimeConfig()
	if o.cfg.Memory.MaxPages > 0 {
		rc = rc.WithMemoryLimitPages(o.cfg.Memory.MaxPages)
	}
	engine := wazero.NewRuntimeWithConfig(ctx, rc)

	rt := &Runtime{
		logger: o.logger,
		cfg:    o.cfg,
		engine: engine,
	}
	rt.dispatcher = dispatch.New(
		dispatch.WithLogger(o.logger.Named("dispatch")),
		dispatch.WithMaxPayload(o.cfg.Transfer.MaxPayload),
		dispatch.WithCriticalErrorHook(o.onCritical),
	)

	if err := rt.boot(ctx, o); err != nil {
		_ = engine.Close(ctx)
		return nil, err
	}

	o.logger.Debug("runtime ready",
		zap.String("host_module", o.cfg.HostModule),
		zap.Strings("assemblies", rt.vm.Methods().Assemblies()))
	return rt, nil
}

func (r *Runtime) boot(ctx context.Context, o *options) error {
	var err error
	r.hostModule, err = r.dispatcher.Instantiate(ctx, r.engine, o.cfg.HostModule)
	if err != nil {
		return err
	}

	b := shim.NewBuilder(o.cfg.HostModule).SetMemory(o.cfg.Memory.InitialPages, o.cfg.Memory.MaxPages)
	for _, ep := range dispatch.EntryPoints {
		b.AddFunc(ep.Name, ep.Params, ep.Results)
	}
	r.shim, err = r.engine.InstantiateWithConfig(ctx, b.Build(), wazero.NewModuleConfig().WithName(ShimModule))
	if err != nil {
		return errors.Instantiation(err)
	}

	r.vm, err = vm.New(r.shim, r.dispatcher.Loop(), o.assemblies, vm.WithLogger(o.logger.Named("vm")))
	if err != nil {
		return err
	}
	return r.dispatcher.Attach(r.vm, r.vm.Heap(), r.vm.Allocator(), r.vm.Methods())
}

// Invoke calls a guest method synchronously.
func (r *Runtime) Invoke(ctx context.Context, assembly, method string, args ...any) (any, error) {
	return r.dispatcher.Invoke(ctx, assembly, method, args...)
}

// InvokeAsync starts an asynchronous guest call.
func (r *Runtime) InvokeAsync(ctx context.Context, assembly, method string, args ...any) (*dispatch.Future, error) {
	return r.dispatcher.InvokeAsync(ctx, assembly, method, args...)
}

// SendByteArray hands data to the guest under id.
func (r *Runtime) SendByteArray(ctx context.Context, id int64, data []byte) error {
	return r.dispatcher.SendByteArray(ctx, id, data)
}

// RegisterFunction exposes fn to the guest under name.
func (r *Runtime) RegisterFunction(name string, fn dispatch.HostFunc) error {
	return r.dispatcher.RegisterFunction(name, fn)
}

// RegisterRawFunction exposes an unmarshalled function to the guest.
func (r *Runtime) RegisterRawFunction(name string, fn dispatch.RawFunc) error {
	return r.dispatcher.RegisterRawFunction(name, fn)
}

// Methods returns the method table of the loaded assemblies.
func (r *Runtime) Methods() *dispatch.MethodTable {
	return r.vm.Methods()
}

// Dispatcher returns the host-side dispatcher.
func (r *Runtime) Dispatcher() *dispatch.Dispatcher {
	return r.dispatcher
}

// VM returns the guest runtime.
func (r *Runtime) VM() *vm.VM {
	return r.vm
}

// Config returns the configuration the runtime was built with.
func (r *Runtime) Config() *config.Config {
	return r.cfg
}

// Close faults pending calls, drops both handle registries and releases
// the wasm engine.
func (r *Runtime) Close(ctx context.Context) error {
	derr := r.dispatcher.Close()
	verr := r.vm.Close()
	if err := r.engine.Close(ctx); err != nil {
		return err
	}
	if derr != nil {
		return derr
	}
	return verr
}
