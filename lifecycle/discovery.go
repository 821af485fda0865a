package lifecycle

import (
	"fmt"
	"os"
)

// Discover locates the runtime state of the stack serving the current test
// process, from the process environment.
func Discover() (*RuntimeState, error) {
	return DiscoverWith(os.Getenv)
}

// DiscoverWith is Discover over an arbitrary lookup function. The state
// file key wins; a session key is followed to the session's state file.
func DiscoverWith(getenv func(string) string) (*RuntimeState, error) {
	path := getenv(EnvStateFile)
	if path == "" {
		if sessionPath := getenv(EnvSession); sessionPath != "" {
			s, err := LoadSession(sessionPath)
			if err != nil {
				return nil, err
			}
			path = s.StateFile
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no running stack: neither %s nor %s is set", EnvStateFile, EnvSession)
	}
	st, err := ReadRuntimeState(path)
	if err != nil {
		return nil, err
	}
	if want := getenv(EnvProject); want != "" && want != st.ProjectName {
		return nil, fmt.Errorf("runtime state %s belongs to project %s, not %s", path, st.ProjectName, want)
	}
	return st, nil
}
