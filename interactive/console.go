// Package interactive provides an operator console for the running charge
// points. Commands are routed through the same CommandRouter the notifiers use.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"charge_point/common"
	"charge_point/notifier"
)

// Stations lists the running charge points.
type Stations interface {
	Names() []string
}

type Console struct {
	stations Stations
	router   *notifier.CommandRouter
	rl       *readline.Instance
}

func New(stations Stations, router *notifier.CommandRouter) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cp> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{stations: stations, router: router, rl: rl}, nil
}

// Stdout returns a writer that does not clobber the prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until EOF, then calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp(c.rl.Stdout())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if !c.Execute(line, c.rl.Stdout()) {
			cancel()
			return
		}
	}
}

// Execute runs one console line and reports whether the console should keep
// running. The accepted form is "<action> <chargePointId> [json payload]".
func (c *Console) Execute(line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	parts := strings.SplitN(input, " ", 3)
	cmd := strings.ToLower(parts[0])

	switch cmd {
	case "help", "?":
		c.printHelp(out)
		return true
	case "list", "ls":
		names := c.stations.Names()
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return true
	case "quit", "exit", "q":
		return false
	}

	if len(parts) < 2 {
		fmt.Fprintf(out, "usage: %s <chargePointId> [payload]\n", cmd)
		return true
	}
	command := common.Command{Action: cmd, ChargePointId: parts[1]}
	if len(parts) == 3 {
		command.Payload = json.RawMessage(parts[2])
		if !json.Valid(command.Payload.(json.RawMessage)) {
			fmt.Fprintln(out, "payload is not valid JSON")
			return true
		}
	}
	data, _ := json.Marshal(command)
	response := c.router.Dispatch(data)
	if response.Err != nil {
		fmt.Fprintf(out, "error: %v\n", response.Err)
		return true
	}
	bt, _ := json.MarshalIndent(response.Payload, "", "  ")
	fmt.Fprintln(out, string(bt))
	return true
}

func (c *Console) printHelp(out io.Writer) {
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  list                              running charge points")
	fmt.Fprintln(out, "  <action> <chargePointId> [json]   run an operator action")
	fmt.Fprintln(out, "  help                              this text")
	fmt.Fprintln(out, "  quit                              stop the simulator")
	actions := c.router.Actions()
	sort.Strings(actions)
	fmt.Fprintf(out, "Actions: %s\n", strings.Join(actions, ", "))
}
