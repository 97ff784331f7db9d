package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/observability"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/wire"
)

// Client drives one machine's participation in the fleet: it dials the
// server's TCP control port, polls GetAction in a loop, and dispatches
// each action to the collaborator interfaces that perform the actual disk
// I/O, boot manipulation, and OS control.
type Client struct {
	ServerAddr   string // server's TCP control address, host:port
	ControlAddr  string // server's UDP control address (progress/requests), host:port
	ChunksAddr   string // local bind address for the broadcast chunk channel, host:port

	Disk BlockDevice
	Boot BootManager
	OS   OSExecutor
	UI   SerialUI

	RegisterGroup string
	RegisterRow   uint8
	RegisterCol   uint8
	RegisterImage string

	Logger *observability.Logger

	PollInterval time.Duration

	// MaxRAMBudget bounds how much memory the flash action's decoder LRU
	// may hold in-flight chunks for; zero falls back to
	// minChunksInMemory regardless.
	MaxRAMBudget uint64
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.Dial("tcp", c.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("agent: dial %s: %w", c.ServerAddr, err)
	}
	return conn, nil
}

func (c *Client) roundTrip(conn net.Conn, req []byte) ([]byte, error) {
	if err := wire.WriteFrame(conn, req); err != nil {
		return nil, err
	}
	return wire.ReadFrame(conn)
}

// Run polls the server forever, executing whatever action it names, until
// ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	interval := c.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	for {
		if err := c.poll(ctx); err != nil {
			c.Logger.Error(err, "poll cycle failed")
			c.UI.SetStatus("error: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func (c *Client) poll(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := wire.EncodeGetAction()
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(conn, req)
	if err != nil {
		return fmt.Errorf("agent: get action: %w", err)
	}
	ar, err := wire.DecodeActionResponse(resp)
	if err != nil {
		return fmt.Errorf("agent: decode action response: %w", err)
	}
	conn.Close()

	c.UI.SetStatus("action: " + ar.Action.String())

	switch ar.Action {
	case registry.ActionWait:
		return nil
	case registry.ActionRegister:
		return c.doRegister(ctx)
	case registry.ActionStore:
		if err := c.doStore(ctx, ar.Image); err != nil {
			return err
		}
		return c.completeAction()
	case registry.ActionFlash:
		if err := c.doFlash(ctx, ar.Image); err != nil {
			return err
		}
		return c.completeAction()
	case registry.ActionReboot:
		return c.OS.Reboot()
	case registry.ActionShutdown:
		return c.OS.Shutdown()
	default:
		return fmt.Errorf("agent: unhandled action %v", ar.Action)
	}
}

func (c *Client) completeAction() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()
	req, err := wire.EncodeActionComplete()
	if err != nil {
		return err
	}
	_, err = c.roundTrip(conn, req)
	return err
}

func (c *Client) doRegister(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := wire.EncodeRegister(registry.RegistrationInfo{
		Group: c.RegisterGroup,
		Row:   c.RegisterRow,
		Col:   c.RegisterCol,
		Image: c.RegisterImage,
	})
	if err != nil {
		return err
	}
	resp, err := c.roundTrip(conn, req)
	if err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}
	outcome, err := wire.DecodeOutcome(resp)
	if err != nil {
		return err
	}
	if outcome != "" {
		return fmt.Errorf("agent: register rejected: %s", outcome)
	}
	return nil
}

// reportProgress sends a best-effort UDP progress datagram; failures are
// logged, not fatal, since the server re-derives state from ActionComplete
// regardless.
func (c *Client) reportProgress(done, total uint64) {
	if c.ControlAddr == "" {
		return
	}
	body, err := wire.EncodeActionProgress(done, total)
	if err != nil {
		c.Logger.Error(err, "encode action progress")
		return
	}
	conn, err := net.Dial("udp", c.ControlAddr)
	if err != nil {
		c.Logger.Error(err, "dial control udp for progress report")
		return
	}
	defer conn.Close()
	if _, err := conn.Write(body); err != nil {
		c.Logger.Error(err, "send progress report")
	}
}
