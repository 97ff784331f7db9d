package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/broadcast"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/config"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/netarp"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/ratelimit"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	storageDir := flag.String("storage-dir", "storage", "chunk and image storage directory")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "metrics/health HTTP address")
	flag.Parse()

	logger := observability.NewLogger("pixie-server", "1.0.0", os.Stdout)
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")
	if shutdown, err := observability.InitTracing(context.Background(), "pixie-server"); err == nil {
		defer shutdown(context.Background())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err, "load config")
	}
	logger.Info("configuration loaded from " + *configPath)

	st, err := store.Load(*storageDir, cfg.ValidImage)
	if err != nil {
		logger.Fatal(err, "load chunk store")
	}
	st.Logger = logger

	unitsPath := filepath.Join(*storageDir, "registered.json")
	units, err := loadUnitsJournal(unitsPath)
	if err != nil {
		logger.Fatal(err, "load units journal")
	}
	reg := registry.Load(units, cfg.GroupID, cfg.ValidImage)
	reg.Logger = logger
	go runUnitsJournal(reg, unitsPath, logger.Error)

	healthChecker.RegisterCheck("storage_dir", observability.ChunkStoreCheck(*storageDir, func(p string) error {
		_, err := os.Stat(p)
		return err
	}))

	tcpLn, err := net.Listen("tcp", net.JoinHostPort("", portString(cfg.Network.TCPPort)))
	if err != nil {
		logger.Fatal(err, "listen tcp")
	}
	defer tcpLn.Close()
	logger.Info("tcp control listener on " + tcpLn.Addr().String())

	udpConn, err := net.ListenPacket("udp4", net.JoinHostPort("", portString(cfg.Network.UDPPort)))
	if err != nil {
		logger.Fatal(err, "listen udp")
	}
	defer udpConn.Close()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: int(cfg.Network.ChunksPort)}
	groupsInfo := make([]wire.GroupInfo, 0, cfg.Groups.Len())
	firstGroupName := ""
	for id := uint8(0); int(id) < cfg.Groups.Len(); id++ {
		name, ok := cfg.Groups.Name(id)
		if !ok {
			continue
		}
		if firstGroupName == "" {
			firstGroupName = name
		}
		groupsInfo = append(groupsInfo, wire.GroupInfo{Name: name, ID: id})
	}
	firstGroupID, _ := cfg.Groups.ID(firstGroupName)
	firstImage := ""
	if len(cfg.Images) > 0 {
		firstImage = cfg.Images[0]
	}

	engine := &broadcast.Engine{
		Conn:       udpConn,
		Broadcast:  broadcastAddr,
		Store:      st,
		Registry:   reg,
		Logger:     logger,
		Metrics:    metrics,
		ChunksPort: int(cfg.Network.ChunksPort),
		HintPort:   int(cfg.Network.HintPort),
		FirstGroup: firstGroupID,
		FirstImage: firstImage,
		GroupsInfo: groupsInfo,
		Images:     cfg.Images,
		FindMAC:    netarp.FindMAC,
		Queue:      broadcast.NewQueue(),
		Pacer:      broadcast.NewPacer(cfg.Hosts.BroadcastSpeed),
	}

	healthChecker.RegisterCheck("broadcast_queue", observability.BroadcastEngineCheck(engine.Queue.Len, 4096))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mustRun(ctx, logger, "chunk broadcast loop", engine.RunChunkBroadcast)
	go mustRun(ctx, logger, "hint beacon loop", engine.RunHintBeacon)
	go mustRun(ctx, logger, "udp request listener", engine.RunRequestListener)

	tb := ratelimit.NewTokenBucket(50, 100)
	tcp := newTCPServer(st, reg, cfg, logger, metrics)
	go func() {
		if err := tcp.Serve(tcpLn, tb); err != nil && ctx.Err() == nil {
			logger.Error(err, "tcp server stopped")
		}
	}()

	go startObservabilityServer(*observAddr, metrics, healthChecker, logger, st, reg, cfg)

	logger.Info("pixie-server running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
}

func mustRun(ctx context.Context, logger *observability.Logger, name string, f func(context.Context) error) {
	if err := f(ctx); err != nil && ctx.Err() == nil {
		logger.Error(err, name+" exited")
	}
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}

func startObservabilityServer(addr string, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger, st *store.Store, reg *registry.Registry, cfg *config.Config) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	registerAdminRoutes(mux, st, reg, cfg)
	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}
