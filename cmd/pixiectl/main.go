// Command pixiectl is the operator CLI for a running pixie-server: listing
// and mutating fleet units, and triggering chunk store garbage collection.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"
)

func main() {
	server := flag.String("server", "127.0.0.1:8081", "pixie-server admin address")
	yes := flag.Bool("yes", false, "skip confirmation for destructive operations")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := &adminClient{base: "http://" + *server}

	var err error
	switch args[0] {
	case "unit":
		err = unitCommand(client, args[1:], *yes)
	case "gc":
		err = gcCommand(client, *yes)
	case "images":
		err = imagesCommand(client)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage:
  pixiectl unit list [selector]
  pixiectl unit forget <selector>
  pixiectl unit set-action <selector> <wait|store|flash|register|reboot|shutdown>
  pixiectl gc
  pixiectl images`)
}

func unitCommand(c *adminClient, args []string, skipConfirm bool) error {
	if len(args) == 0 {
		usage()
		return nil
	}
	switch args[0] {
	case "list":
		selector := ""
		if len(args) > 1 {
			selector = args[1]
		}
		return c.listUnits(selector)
	case "forget":
		if len(args) < 2 {
			return fmt.Errorf("forget requires a selector")
		}
		if !confirm(skipConfirm, fmt.Sprintf("forget units matching %q?", args[1])) {
			fmt.Println("aborted")
			return nil
		}
		return c.forgetUnits(args[1])
	case "set-action":
		if len(args) < 3 {
			return fmt.Errorf("set-action requires a selector and an action")
		}
		if !confirm(skipConfirm, fmt.Sprintf("set next action of units matching %q to %q?", args[1], args[2])) {
			fmt.Println("aborted")
			return nil
		}
		return c.setAction(args[1], args[2])
	default:
		usage()
		return nil
	}
}

func gcCommand(c *adminClient, skipConfirm bool) error {
	if !confirm(skipConfirm, "run chunk store garbage collection?") {
		fmt.Println("aborted")
		return nil
	}
	return c.gc()
}

func imagesCommand(c *adminClient) error {
	return c.images()
}

// confirm prompts on a real terminal, requires -yes when stdin isn't one
// (a script or pipe can't answer an interactive prompt).
func confirm(skip bool, prompt string) bool {
	if skip {
		return true
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "refusing to run a destructive operation on a non-interactive terminal without -yes")
		return false
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	return line == "y" || line == "yes"
}

type adminClient struct {
	base string
}

func (c *adminClient) listUnits(selector string) error {
	url := c.base + "/api/units"
	if selector != "" {
		url += "?selector=" + selector
	}
	return c.getAndPrint(url)
}

func (c *adminClient) images() error {
	return c.getAndPrint(c.base + "/api/images")
}

func (c *adminClient) getAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %s", url, resp.Status)
	}
	var raw interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}

func (c *adminClient) forgetUnits(selector string) error {
	return c.postJSON(c.base+"/api/units/forget", map[string]string{"selector": selector})
}

func (c *adminClient) setAction(selector, action string) error {
	return c.postJSON(c.base+"/api/units/action", map[string]string{"selector": selector, "action": action})
}

func (c *adminClient) gc() error {
	resp, err := http.Post(c.base+"/api/gc", "application/json", nil)
	if err != nil {
		return fmt.Errorf("request gc: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gc: status %s", resp.Status)
	}
	fmt.Println("ok")
	return nil
}

func (c *adminClient) postJSON(url string, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %s", url, resp.Status)
	}
	return c.printBody(resp.Body)
}

func (c *adminClient) printBody(r io.Reader) error {
	var raw interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
