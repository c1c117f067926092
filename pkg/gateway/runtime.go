package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"squadbot/pkg/admission"
	"squadbot/pkg/bus"
	"squadbot/pkg/config"
	"squadbot/pkg/directory"
	"squadbot/pkg/dispatch"
	"squadbot/pkg/handler"
	"squadbot/pkg/intent"
	"squadbot/pkg/message"
	"squadbot/pkg/registration"
	"squadbot/pkg/router"
	"squadbot/pkg/routing"
)

const relayClientTimeout = 30 * time.Second

// Runtime owns every long-lived component of the request pipeline.
type Runtime struct {
	Router    *router.Router
	Admission *admission.Controller
	Extractor intent.Extractor
	Handlers  *handler.Registry
	Bus       *bus.MessageBus
	Directory *directory.Set

	log *slog.Logger
}

// BuildRuntime wires the pipeline from cfg. Routing tables, handler references
// and directory settings are all validated before anything is returned.
func BuildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		log = slog.Default()
	}

	tables, err := routing.NewTables(cfg.Routing)
	if err != nil {
		return nil, fmt.Errorf("load routing tables: %w", err)
	}

	dirs, err := directory.Open(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("open directory: %w", err)
	}
	if err := dirs.EnsureSchema(ctx); err != nil {
		log.Warn("Directory schema check failed; lookups will degrade", "error", err)
	}

	extractor, err := intent.New(cfg, tables.Intents.Labels())
	if err != nil {
		_ = dirs.Close()
		return nil, fmt.Errorf("initialize intent extractor: %w", err)
	}

	var rt *router.Router
	handlers := handler.NewRegistry()
	commands := func() *routing.CommandTable {
		if rt == nil {
			return tables.Commands
		}
		return rt.Tables().Commands
	}
	if err := handler.RegisterBuiltins(handlers, commands); err != nil {
		_ = dirs.Close()
		return nil, fmt.Errorf("register builtin handlers: %w", err)
	}
	if err := handler.RegisterHTTP(handlers, cfg.Handlers, &http.Client{Timeout: relayClientTimeout}); err != nil {
		_ = dirs.Close()
		return nil, fmt.Errorf("register relay handlers: %w", err)
	}

	systemSenders := make([]message.SenderID, 0, len(cfg.Registration.SystemSenders))
	for _, id := range cfg.Registration.SystemSenders {
		systemSenders = append(systemSenders, message.SenderID(id))
	}
	resolver := registration.NewResolver(dirs.Players, dirs.Members, registration.Options{
		Timeout:       cfg.Timeouts.Registration(),
		MaxRetries:    cfg.Registration.MaxRetries,
		Backoff:       cfg.Registration.RetryBackoff(),
		SystemSenders: systemSenders,
	}, log)

	dispatcher := dispatch.New(extractor, handlers, dispatch.Options{
		IntentTimeout:   cfg.Timeouts.Intent(),
		HandlerTimeout:  cfg.Timeouts.Handler(),
		HandlerTimeouts: cfg.Timeouts.HandlerOverrides(),
	}, log)

	controller := admission.NewController(admission.Limits{
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		MaxPerWindow:  cfg.Admission.MaxPerWindow,
		Window:        time.Duration(cfg.Admission.WindowSeconds) * time.Second,
		SweepInterval: time.Duration(cfg.Admission.SweepIntervalSeconds) * time.Second,
	}, log)

	messageBus := bus.NewMessageBus()

	rt, err = router.New(router.Deps{
		Admission:  controller,
		Validator:  message.NewValidator(cfg.Validation.MaxTextLength),
		Identifier: resolver,
		Tables:     tables,
		Dispatcher: dispatcher,
		Handlers:   handlers,
		Bus:        messageBus,
		Logger:     log,
	})
	if err != nil {
		messageBus.Close()
		_ = dirs.Close()
		return nil, err
	}

	log.With("component", "gateway.runtime").Debug("Runtime assembled",
		"intent_provider", cfg.Intent.Provider,
		"directory_driver", cfg.Directory.Driver,
		"handlers", len(handlers.IDs()),
		"command_rules", len(tables.Commands.Rules()),
		"intent_rules", len(tables.Intents.Rules()),
	)

	return &Runtime{
		Router:    rt,
		Admission: controller,
		Extractor: extractor,
		Handlers:  handlers,
		Bus:       messageBus,
		Directory: dirs,
		log:       log.With("component", "gateway.runtime"),
	}, nil
}

// ReloadRouting re-reads the routing section of the config file at path and
// swaps it into the router. The previous tables stay in effect on any error.
func (r *Runtime) ReloadRouting(path string) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	tables, err := routing.NewTables(cfg.Routing)
	if err != nil {
		return fmt.Errorf("load routing tables: %w", err)
	}

	return r.Router.ReloadTables(tables)
}

// Close stops the event bus and releases directory connections.
func (r *Runtime) Close() {
	r.Bus.Close()
	if err := r.Directory.Close(); err != nil {
		r.log.Warn("Failed to close directory", "error", err)
	}
}
