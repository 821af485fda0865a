package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/initializ/dockflow/types"
)

// Keys describing a stack that test code manages itself (method scope or
// delegated stack management).
const (
	EnvStack     = "DOCKFLOW_COMPOSE_STACK"
	EnvFiles     = "DOCKFLOW_COMPOSE_FILES"
	EnvServices  = "DOCKFLOW_COMPOSE_SERVICES"
	EnvLifecycle = "DOCKFLOW_COMPOSE_LIFECYCLE"
	EnvStateDir  = "DOCKFLOW_STATE_DIR"
)

// ErrNotConfigured means no stack settings are present.
var ErrNotConfigured = errors.New("compose stack not configured")

// StackEnv renders stack settings as environment variables.
func StackEnv(stack *Stack, stateDir string) map[string]string {
	return map[string]string{
		EnvStack:     stack.Name,
		EnvFiles:     strings.Join(stack.Files, string(os.PathListSeparator)),
		EnvServices:  strings.Join(stack.Services, ","),
		EnvLifecycle: stack.Mode.String(),
		EnvStateDir:  stateDir,
	}
}

// StackFromEnv parses settings rendered by StackEnv. An empty state dir
// falls back to a directory under the system temp dir.
func StackFromEnv(getenv func(string) string) (*Stack, string, error) {
	name := getenv(EnvStack)
	if name == "" {
		return nil, "", ErrNotConfigured
	}
	files := filepath.SplitList(getenv(EnvFiles))
	if len(files) == 0 {
		return nil, "", fmt.Errorf("%s is set but %s is empty", EnvStack, EnvFiles)
	}
	mode, err := types.ParseLifecycleMode(getenv(EnvLifecycle))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", EnvLifecycle, err)
	}
	var services []string
	for _, s := range strings.Split(getenv(EnvServices), ",") {
		if s = strings.TrimSpace(s); s != "" {
			services = append(services, s)
		}
	}
	stateDir := getenv(EnvStateDir)
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "dockflow-state")
	}
	return &Stack{Name: name, Files: files, Services: services, Mode: mode}, stateDir, nil
}
