package compose

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type psEntry struct {
	ID         string        `json:"ID"`
	Name       string        `json:"Name"`
	Service    string        `json:"Service"`
	State      string        `json:"State"`
	Health     string        `json:"Health"`
	Publishers []psPublisher `json:"Publishers"`
}

type psPublisher struct {
	URL           string `json:"URL"`
	TargetPort    int    `json:"TargetPort"`
	PublishedPort int    `json:"PublishedPort"`
	Protocol      string `json:"Protocol"`
}

// ParsePS parses `docker compose ps --format json` output. Older compose
// versions print one JSON array; newer ones print one object per line.
func ParsePS(data []byte) ([]Service, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var entries []psEntry
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parsing ps output: %w", err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			var e psEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return nil, fmt.Errorf("parsing ps output line: %w", err)
			}
			entries = append(entries, e)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading ps output: %w", err)
		}
	}

	services := make([]Service, 0, len(entries))
	for _, e := range entries {
		s := Service{
			Service:       e.Service,
			ContainerID:   e.ID,
			ContainerName: e.Name,
			State:         e.State,
			Health:        e.Health,
			Ports:         []Port{},
		}
		seen := make(map[Port]bool)
		for _, p := range e.Publishers {
			if p.PublishedPort == 0 {
				continue
			}
			port := Port{Container: p.TargetPort, Host: p.PublishedPort, Protocol: p.Protocol}
			// IPv4 and IPv6 bindings of the same port show up twice.
			if seen[port] {
				continue
			}
			seen[port] = true
			s.Ports = append(s.Ports, port)
		}
		services = append(services, s)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Service < services[j].Service })
	return services, nil
}
