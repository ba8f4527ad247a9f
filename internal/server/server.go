/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package server wires the speech bridge to its backends and exposes it over
// HTTP, NATS and the gRPC health protocol.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/loqalabs/loqa-voice-bridge/internal/api"
	"github.com/loqalabs/loqa-voice-bridge/internal/config"
	"github.com/loqalabs/loqa-voice-bridge/internal/control"
	"github.com/loqalabs/loqa-voice-bridge/internal/health"
	"github.com/loqalabs/loqa-voice-bridge/internal/logging"
	"github.com/loqalabs/loqa-voice-bridge/internal/messaging"
	"github.com/loqalabs/loqa-voice-bridge/internal/metrics"
	"github.com/loqalabs/loqa-voice-bridge/internal/relay"
	"github.com/loqalabs/loqa-voice-bridge/internal/speech"
	"github.com/loqalabs/loqa-voice-bridge/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// gRPC health service names
const (
	RecognitionService = "voice.bridge.Recognition"
	SynthesisService   = "voice.bridge.Synthesis"
)

// Options overrides parts of the wiring, mainly for tests
type Options struct {
	// Host replaces the backends built from the configuration
	Host *speech.Host
	// Registry receives the bridge metrics; a fresh registry when nil
	Registry *prometheus.Registry
}

// Server owns the bridge and every surface around it
type Server struct {
	cfg *config.Config
	mux *http.ServeMux

	httpServer   *http.Server
	grpcServer   *grpc.Server
	healthServer *grpchealth.Server
	monitor      *health.Monitor

	metrics    *metrics.Metrics
	db         *storage.Database
	store      *storage.EventsStore
	backends   *backends
	bridge     *speech.Bridge
	relay      *relay.Relay
	controller *control.Controller
	nats       *messaging.NATSService
	kafka      *messaging.KafkaPublisher

	// Server context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server from cfg
func New(cfg *config.Config) (*Server, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a server with specified options
func NewWithOptions(cfg *config.Config, opts Options) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := s.init(opts); err != nil {
		s.shutdownComponents()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(opts Options) error {
	cfg := s.cfg

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = metrics.NewMetrics(registry, registry)

	db, err := storage.NewDatabase(storage.DatabaseConfig{Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db = db
	s.store = storage.NewEventsStore(db)

	if cfg.NATS.Enabled {
		ns := messaging.NewNATSService(cfg.NATS)
		if err := ns.Connect(); err != nil {
			logging.LogWarn("NATS unavailable, continuing without messaging", zap.Error(err))
		} else {
			s.nats = ns
		}
	}
	s.kafka = messaging.NewKafkaPublisher(cfg.Kafka)

	host := opts.Host
	if host == nil {
		b, err := buildBackends(s.ctx, cfg, s.metrics, s.nats)
		if err != nil {
			return err
		}
		s.backends = b
		host = b.host
	}

	s.bridge = speech.NewBridge(speech.Options{
		Host:               host,
		Recognizer:         cfg.Bridge.Recognizer,
		FallbackRecognizer: cfg.Bridge.FallbackRecognizer,
		Language:           cfg.Bridge.Language,
		SpeechRate:         cfg.Bridge.SpeechRate,
		Metrics:            s.metrics,
	})

	s.relay = relay.New(relay.Config{
		Workers:  cfg.Relay.Workers,
		Language: cfg.Bridge.Language,
		Metrics:  s.metrics,
	})
	s.relay.AddSink("store", relay.PublisherFunc(s.store.Insert))
	if s.nats != nil {
		s.relay.AddSink("nats", s.nats)
	}
	if s.kafka.Enabled() {
		s.relay.AddSink("kafka", s.kafka)
	}
	s.relay.Attach(s.bridge)

	s.controller = control.New(s.bridge, s.relay)

	if s.nats != nil {
		if err := s.nats.SubscribeControl(s.controller); err != nil {
			logging.LogWarn("NATS control subjects unavailable", zap.Error(err))
		}
	}

	s.configureHealth()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	s.routes()

	logging.LogInfo("Components configured",
		zap.String("recognizer", s.bridge.RecognizerName()),
		zap.Bool("recognition_available", s.bridge.RecognitionAvailable()),
		zap.Bool("synthesis_available", s.bridge.SynthesisAvailable()),
		zap.Bool("nats", s.nats != nil),
		zap.Bool("kafka", s.kafka.Enabled()),
		zap.String("db_path", db.GetPath()),
	)
	return nil
}

// configureHealth registers backend probes and the gRPC health service
func (s *Server) configureHealth() {
	cfg := s.cfg
	client := &http.Client{Timeout: 5 * time.Second}

	s.monitor = health.NewMonitor(30*time.Second, 5*time.Second)
	s.monitor.Register("database", s.db.Ping, true)
	if s.bridge.RecognizerName() == RecognizerREST {
		s.monitor.Register("stt", health.HTTPProbe(client, cfg.STT.URL+"/health"), true)
	}
	if cfg.TTS.Enabled {
		s.monitor.Register("tts", health.HTTPProbe(client, cfg.TTS.URL+"/audio/voices"), true)
	}
	if s.nats != nil {
		s.monitor.Register("nats", func(context.Context) error {
			if !s.nats.IsConnected() {
				return messaging.ErrNotConnected
			}
			return nil
		}, false)
	}
	s.monitor.SetChangeCallback(func(health.Status) { s.updateServingStatus() })

	s.healthServer = grpchealth.NewServer()
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.updateServingStatus()
}

func (s *Server) updateServingStatus() {
	status := func(ok bool) healthpb.HealthCheckResponse_ServingStatus {
		if ok {
			return healthpb.HealthCheckResponse_SERVING
		}
		return healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.healthServer.SetServingStatus("", status(!s.monitor.Status().Degraded))
	s.healthServer.SetServingStatus(RecognitionService, status(s.bridge.RecognitionAvailable()))
	s.healthServer.SetServingStatus(SynthesisService, status(s.bridge.SynthesisAvailable()))
}

// Start starts the server and all background services. It blocks until the
// HTTP server stops.
func (s *Server) Start() error {
	go s.monitor.Start(s.ctx)

	grpcAddr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.GRPCPort))
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}
	go func() {
		if err := s.grpcServer.Serve(listener); err != nil {
			logging.LogError(err, "gRPC server stopped")
		}
	}()

	logging.LogInfo("Voice bridge starting",
		zap.String("http_addr", s.httpServer.Addr),
		zap.String("grpc_addr", grpcAddr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	logging.LogInfo("Shutting down voice bridge")

	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.shutdownComponents()

	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logging.LogInfo("Voice bridge shut down successfully")
	return nil
}

// shutdownComponents releases everything init created, in dependency order
func (s *Server) shutdownComponents() {
	if s.bridge != nil && s.bridge.IsListening() {
		s.bridge.StopListening()
	}
	if s.healthServer != nil {
		s.healthServer.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	if s.backends != nil {
		s.backends.close()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	if s.nats != nil {
		s.nats.Close()
	}
	if s.kafka != nil {
		if err := s.kafka.Close(); err != nil {
			logging.LogWarn("Failed to close Kafka publisher", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logging.LogWarn("Failed to close database", zap.Error(err))
		}
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Bridge returns the speech bridge
func (s *Server) Bridge() *speech.Bridge {
	return s.bridge
}

// Controller returns the controller shared by every surface
func (s *Server) Controller() *control.Controller {
	return s.controller
}

// routes sets up HTTP routing
func (s *Server) routes() {
	controlHandler := api.NewControlHandler(s.controller)
	eventsHandler := api.NewEventsHandler(s.store)

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.HandleFunc("/api/listen/start", controlHandler.HandleStartListening)
	s.mux.HandleFunc("/api/listen/stop", controlHandler.HandleStopListening)
	s.mux.HandleFunc("/api/speak", controlHandler.HandleSpeak)
	s.mux.HandleFunc("/api/state", controlHandler.HandleState)
	s.mux.HandleFunc("/api/events", eventsHandler.HandleEvents)
	s.mux.HandleFunc("/api/events/", eventsHandler.HandleEventByID)
}

// handleHealth reports bridge state and the latest backend probe results
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	backendStatus := s.monitor.Status()
	status := "ok"
	if backendStatus.Degraded {
		status = "degraded"
	}

	state := s.controller.State()
	writeJSON(w, map[string]any{
		"status":                status,
		"timestamp":             time.Now().UTC(),
		"listening":             state.Listening,
		"recognition_available": state.RecognitionAvailable,
		"synthesis_available":   state.SynthesisAvailable,
		"recognizer":            state.Recognizer,
		"nats_connected":        s.nats != nil && s.nats.IsConnected(),
		"kafka_enabled":         s.kafka.Enabled(),
		"backends":              backendStatus,
	})
}
