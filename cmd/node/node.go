package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"floorreg/internal/bridge"
	"floorreg/internal/dispatch"
	"floorreg/internal/journal"
	"floorreg/internal/metrics"
	"floorreg/internal/netinfo"
	"floorreg/internal/registry"
	"floorreg/internal/rpc"
	"floorreg/internal/transport"
	"floorreg/pkg/config"
	"floorreg/pkg/logger"
)

const (
	expiryCheckInterval = 5 * time.Second
	journalPruneEvery   = time.Hour
)

// Run starts the sensor node: the UDP transport, the registry, the RPC
// socket and, when configured, metrics and the MQTT bridge.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Node.LogLevel)

	port, err := cfg.Node.UDPPort()
	if err != nil {
		return fmt.Errorf("parsing port: %w", err)
	}
	interval, err := cfg.Node.ParseDiscoveryInterval()
	if err != nil {
		return fmt.Errorf("parsing discovery interval: %w", err)
	}
	receiveTimeout, err := cfg.Node.ParseReceiveTimeout()
	if err != nil {
		return fmt.Errorf("parsing receive timeout: %w", err)
	}
	staleThreshold, err := cfg.Node.ParseStaleThreshold()
	if err != nil {
		return fmt.Errorf("parsing stale threshold: %w", err)
	}

	broadcastAddr := cfg.Node.BroadcastAddress
	if broadcastAddr == "" {
		broadcastAddr, err = netinfo.BroadcastAddress(cfg.Node.NetworkRange)
		if err != nil {
			return fmt.Errorf("determining broadcast address: %w", err)
		}
	}

	// Ensure RPC socket directory exists
	sockDir := filepath.Dir(cfg.Node.RPCSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tm, err := metrics.NewTransport(promReg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	actor := transport.New(
		transport.Config{
			BindAddress:       cfg.Node.BindAddress,
			ReceiveTimeout:    receiveTimeout,
			DiscoveryInterval: interval,
		},
		transport.WithSocketFactory(transport.UDPSocketFactory{TTL: cfg.Node.TTL}),
		transport.WithLogger(log.With().Str("component", "transport").Logger()),
		transport.WithMetrics(tm),
	)
	defer actor.Close()

	reg := registry.New(nil, log.With().Str("component", "registry").Logger())
	subID, reports := actor.Reports().Subscribe()
	defer actor.Reports().Unsubscribe(subID)
	go reg.Run(ctx, reports)
	go reg.RunExpiry(ctx, expiryCheckInterval, staleThreshold)

	var j *journal.Journal
	var recorder dispatch.Recorder
	if cfg.Node.JournalPath != "" {
		j, err = openJournal(ctx, cfg.Node.JournalPath, cfg.Node.JournalKeep, log)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder = j
	}

	d := dispatch.New(reg, actor, recorder, port, log)

	listener, err := rpc.StartServer(cfg.Node.RPCSocket, rpc.NewService(reg, d, j, actor, log), log)
	if err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}
	defer func() {
		listener.Close()
		os.Remove(cfg.Node.RPCSocket)
	}()

	errCh := make(chan error, 3)

	if cfg.Node.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Node.MetricsAddr, promReg, log); err != nil {
				errCh <- err
			}
		}()
	}

	if cfg.MQTT.Broker != "" {
		go runBridge(ctx, cfg.MQTT, actor, d, log)
	}

	log.Info().
		Str("broadcast", broadcastAddr).
		Uint16("port", port).
		Dur("discovery_interval", interval).
		Str("journal", cfg.Node.JournalPath).
		Msg("Starting floorreg node")

	transportDone := startTransport(ctx, actor, broadcastAddr, port, errCh)

	// Wait for shutdown signal or a fatal component error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	// Stop the loops and wait for the UDP socket to be disposed before the
	// journal and RPC socket are closed.
	cancel()
	<-transportDone
	return err
}

// startTransport runs the actor loop in a goroutine. The returned channel is
// closed once Run has returned and the socket is disposed.
func startTransport(ctx context.Context, actor *transport.Actor, broadcastAddr string, port uint16, errCh chan<- error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := actor.Run(ctx, broadcastAddr, port); err != nil {
			errCh <- fmt.Errorf("transport: %w", err)
		}
	}()
	return done
}

func openJournal(ctx context.Context, path string, keep int, log zerolog.Logger) (*journal.Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating journal directory %s: %w", dir, err)
	}

	j, err := journal.Open(path, log.With().Str("component", "journal").Logger())
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if keep > 0 {
		prune := func() {
			if _, err := j.Prune(keep); err != nil {
				log.Warn().Err(err).Msg("Failed to prune journal")
			}
		}
		prune()
		go func() {
			ticker := time.NewTicker(journalPruneEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					prune()
				}
			}
		}()
	}
	return j, nil
}

func runBridge(ctx context.Context, cfg config.MQTTConfig, actor *transport.Actor, d *dispatch.Dispatcher, log zerolog.Logger) {
	blog := log.With().Str("component", "mqtt").Logger()

	client, err := bridge.Connect(ctx, bridge.Config{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID,
		Username:    cfg.Username,
		Password:    cfg.Password,
		TopicPrefix: cfg.TopicPrefix,
	}, blog)
	if err != nil {
		blog.Error().Err(err).Msg("MQTT bridge disabled")
		return
	}

	id, reports := actor.Reports().Subscribe()
	defer actor.Reports().Unsubscribe(id)

	if err := bridge.New(client, cfg.TopicPrefix, d, blog).Run(ctx, reports); err != nil {
		blog.Error().Err(err).Msg("MQTT bridge stopped")
	}
}
