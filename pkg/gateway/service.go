package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"squadbot/pkg/admission"
	"squadbot/pkg/bus"
	"squadbot/pkg/channel"
	"squadbot/pkg/config"
)

const (
	defaultHealthHost   = "0.0.0.0"
	defaultHealthPort   = 18790
	healthCheckInterval = 30 * time.Second
	eventBuffer         = 256
)

type Service struct {
	cfg        *config.Config
	configPath string
	log        *slog.Logger
	runtime    *Runtime
	channels   []channel.Adapter

	mu                sync.RWMutex
	startedAt         time.Time
	extractorLastOKAt time.Time
	extractorLastErr  string
	channelStates     map[string]channelState
	tally             *bus.Tally
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status            string                           `json:"status"`
	UptimeSeconds     int64                            `json:"uptime_seconds"`
	ExtractorLastOKAt string                           `json:"extractor_last_ok_at,omitempty"`
	ExtractorLastErr  string                           `json:"extractor_last_error,omitempty"`
	Channels          map[string]channelState          `json:"channels"`
	Admission         map[string]admission.TenantStats `json:"admission,omitempty"`
	Events            map[bus.EventType]int64          `json:"events,omitempty"`
	ErrorCodes        map[string]int64                 `json:"error_codes,omitempty"`
}

// NewService binds transport adapters to an assembled runtime. configPath is
// only used when routing hot reload is enabled.
func NewService(cfg *config.Config, configPath string, runtime *Runtime, adapters []channel.Adapter, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		configPath:    configPath,
		log:           log.With("component", "gateway.service"),
		runtime:       runtime,
		channels:      adapters,
		channelStates: channelStates,
		tally:         bus.NewTally(),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkExtractorHealth(ctx); err != nil {
		s.log.Warn("Intent extractor is not healthy; free-form requests will be rejected", "error", err)
	}

	events, unsubscribe := s.runtime.Bus.SubscribeEvents(ctx, eventBuffer)
	defer unsubscribe()
	go s.tally.Consume(events)

	go func() {
		_ = s.runtime.Admission.Run(ctx)
	}()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.checkExtractorHealth(ctx); err != nil {
					s.log.Warn("Intent extractor health check failed", "error", err)
				}
			}
		}
	}()

	if s.cfg.Routing.Watch && strings.TrimSpace(s.configPath) != "" {
		go s.watchRouting(ctx)
	}

	errCh := make(chan error, len(s.channels))
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		go func() {
			err := adapter.Run(ctx, s.runtime.Router.Handle)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	serverErrors := make(chan error, 1)
	go s.runHealthServer(ctx, serverErrors)

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErrors:
		return err
	case err := <-errCh:
		return err
	}
}

func (s *Service) watchRouting(ctx context.Context) {
	err := config.Watch(ctx, s.configPath, s.log, func() {
		if err := s.runtime.ReloadRouting(s.configPath); err != nil {
			s.log.Error("Routing reload rejected; keeping current tables", "error", err)
			return
		}
	})
	if err != nil {
		s.log.Error("Routing watch stopped", "error", err)
	}
}

func (s *Service) runHealthServer(ctx context.Context, errCh chan<- error) {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/statusz", s.handleStatus)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start status server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, s.currentStatus("ok"))
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, s.currentStatus(status))
}

// handleStatus adds per-tenant admission gauges, lifecycle event counts and
// error codes returned to callers.
func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	payload := s.currentStatus("ok")
	payload.Admission = s.runtime.Admission.Stats()

	tally := s.tally.Snapshot()
	payload.Events = tally.Events
	payload.ErrorCodes = tally.ErrorCodes

	s.respondStatus(w, http.StatusOK, payload)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, payload statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	extractorLastOK := ""
	if !s.extractorLastOKAt.IsZero() {
		extractorLastOK = s.extractorLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:            status,
		UptimeSeconds:     uptime,
		ExtractorLastOKAt: extractorLastOK,
		ExtractorLastErr:  s.extractorLastErr,
		Channels:          channels,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	if s.extractorLastOKAt.IsZero() {
		return false
	}

	if s.extractorLastErr != "" {
		return false
	}

	return true
}

func (s *Service) checkExtractorHealth(ctx context.Context) error {
	if err := s.runtime.Extractor.Health(ctx); err != nil {
		s.mu.Lock()
		s.extractorLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("intent extractor health check failed: %w", err)
	}

	s.mu.Lock()
	s.extractorLastErr = ""
	s.extractorLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
