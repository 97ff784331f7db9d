// Command pixie-agent is the fleet client: it polls a pixie-server's TCP
// control port and executes whatever action the server assigns (register,
// store the local disk, flash a named image, reboot, shutdown).
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olimpiadi-informatica/pixie-sub000/agent"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
)

func main() {
	serverAddr := flag.String("server", "", "pixie-server TCP control address, host:port (required)")
	controlAddr := flag.String("control", "", "pixie-server UDP control address, host:port")
	chunksBind := flag.String("chunks-bind", "0.0.0.0:0", "local bind address for the broadcast chunk channel")
	chunksPort := flag.Int("chunks-port", 0, "broadcast chunk port to bind (overrides the port in -chunks-bind when nonzero)")
	disk := flag.String("disk", "", "block device or file to store from / flash to (required)")
	bootJournal := flag.String("boot-journal", "/var/lib/pixie-agent/boot-target.json", "path recording the pending boot target")

	group := flag.String("group", "", "group name to register under")
	row := flag.Int("row", 0, "row to register at")
	col := flag.Int("col", 0, "column to register at")
	image := flag.String("image", "", "image to request on registration")
	ramBudget := flag.Int64("flash-ram-budget", 0, "bytes of RAM the flash decoder LRU may use (0 picks a built-in floor)")

	flag.Parse()

	logger := observability.NewLogger("pixie-agent", "1.0.0", os.Stdout)

	if *serverAddr == "" || *disk == "" {
		logger.Fatal(nil, "both -server and -disk are required")
	}

	chunksAddr := *chunksBind
	if *chunksPort != 0 {
		chunksAddr = net.JoinHostPort("0.0.0.0", strconv.Itoa(*chunksPort))
	}

	dev, err := agent.OpenBlockDevice(*disk, 0)
	if err != nil {
		logger.Fatal(err, "open disk")
	}
	defer dev.Close()

	client := &agent.Client{
		ServerAddr:    *serverAddr,
		ControlAddr:   *controlAddr,
		ChunksAddr:    chunksAddr,
		Disk:          dev,
		Boot:          &agent.FileBootManager{Path: *bootJournal},
		OS:            agent.SyscallExecutor{},
		UI:            agent.NoopSerialUI{},
		RegisterGroup: *group,
		RegisterRow:   uint8(*row),
		RegisterCol:   uint8(*col),
		RegisterImage: *image,
		Logger:        logger,
		MaxRAMBudget:  uint64(*ramBudget),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	logger.Info("pixie-agent polling " + *serverAddr)
	if err := client.Run(ctx); err != nil {
		logger.Fatal(err, "agent run loop")
	}
}
