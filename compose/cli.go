package compose

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/initializ/dockflow/internal/shell"
	"github.com/initializ/dockflow/logging"
)

// CLI implements Engine over `docker compose`.
type CLI struct {
	Binary string // default "docker"
	Runner shell.Runner
	Logger logging.Logger
}

// NewCLI returns a docker-backed engine.
func NewCLI(runner shell.Runner, logger logging.Logger) *CLI {
	return &CLI{Binary: "docker", Runner: runner, Logger: logger}
}

func (c *CLI) binary() string {
	if c.Binary == "" {
		return "docker"
	}
	return c.Binary
}

func (c *CLI) run(ctx context.Context, dir string, args ...string) (*shell.Result, error) {
	return shell.OrDefault(c.Runner).Run(ctx, shell.Command{Name: c.binary(), Args: args, Dir: dir})
}

func composeArgs(p Project, sub ...string) []string {
	args := []string{"compose", "-p", p.Name}
	for _, f := range p.Files {
		args = append(args, "-f", f)
	}
	return append(args, sub...)
}

func (c *CLI) Up(ctx context.Context, p Project) error {
	if _, err := c.run(ctx, p.Dir, composeArgs(p, "up", "-d")...); err != nil {
		return fmt.Errorf("compose up %s: %w", p.Name, err)
	}
	return nil
}

func (c *CLI) Down(ctx context.Context, p Project) error {
	if _, err := c.run(ctx, p.Dir, composeArgs(p, "down", "--remove-orphans", "--volumes")...); err != nil {
		return fmt.Errorf("compose down %s: %w", p.Name, err)
	}
	return nil
}

func (c *CLI) Services(ctx context.Context, p Project) ([]Service, error) {
	res, err := c.run(ctx, p.Dir, composeArgs(p, "ps", "-a", "--format", "json")...)
	if err != nil {
		return nil, fmt.Errorf("compose ps %s: %w", p.Name, err)
	}
	services, err := ParsePS(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("compose ps %s: %w", p.Name, err)
	}
	return services, nil
}

// WaitForServices polls until every named service is ready or timeout
// elapses. An empty list waits for every service of the project.
func (c *CLI) WaitForServices(ctx context.Context, p Project, names []string, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		services, err := c.Services(ctx, p)
		pending := pendingServices(services, names)
		if err == nil && len(pending) == 0 {
			return nil
		}
		if err != nil {
			logging.OrNop(c.Logger).Debug("compose ps failed while waiting", map[string]any{"project": p.Name, "error": err.Error()})
		}
		if !time.Now().Add(interval).Before(deadline) {
			if err != nil {
				return err
			}
			return &WaitTimeoutError{Project: p.Name, Pending: pending, Deadline: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// pendingServices returns the wanted services that are missing or not ready.
func pendingServices(services []Service, want []string) []string {
	byName := make(map[string]Service, len(services))
	for _, s := range services {
		byName[s.Service] = s
	}
	if len(want) == 0 {
		if len(services) == 0 {
			return []string{"(no services)"}
		}
		for _, s := range services {
			want = append(want, s.Service)
		}
	}
	var pending []string
	for _, name := range want {
		if s, ok := byName[name]; !ok || !s.Ready() {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending
}

func (c *CLI) RemoveByLabel(ctx context.Context, namespace string) error {
	filter := "label=" + ProjectLabel + "=" + namespace
	return errors.Join(
		c.sweep(ctx, []string{"ps", "-aq", "--filter", filter}, []string{"rm", "-f"}),
		c.sweep(ctx, []string{"network", "ls", "-q", "--filter", filter}, []string{"network", "rm"}),
		c.sweep(ctx, []string{"volume", "ls", "-q", "--filter", filter}, []string{"volume", "rm", "-f"}),
	)
}

// RemoveByName sweeps by name. The daemon matches name filters as regular
// expressions, so both filters are anchored: containers are named
// <namespace>-<service>-<n> (or with underscores on compose v1) and networks
// <namespace>_<network>.
func (c *CLI) RemoveByName(ctx context.Context, namespace string) error {
	ns := regexp.QuoteMeta(namespace)
	return errors.Join(
		c.sweep(ctx, []string{"ps", "-aq", "--filter", "name=^/?" + ns + "[-_]"}, []string{"rm", "-f"}),
		c.sweep(ctx, []string{"network", "ls", "-q", "--filter", "name=^" + ns + "_"}, []string{"network", "rm"}),
	)
}

// sweep lists resource IDs with list and removes them with remove.
func (c *CLI) sweep(ctx context.Context, list, remove []string) error {
	res, err := c.run(ctx, "", list...)
	if err != nil {
		return fmt.Errorf("listing for sweep: %w", err)
	}
	ids := strings.Fields(string(res.Stdout))
	if len(ids) == 0 {
		return nil
	}
	if _, err := c.run(ctx, "", append(remove, ids...)...); err != nil {
		return fmt.Errorf("sweeping %d resources: %w", len(ids), err)
	}
	logging.OrNop(c.Logger).Debug("swept resources", map[string]any{"command": strings.Join(remove, " "), "count": len(ids)})
	return nil
}
