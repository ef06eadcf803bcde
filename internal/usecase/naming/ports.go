package naming

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bnema/flotilla/internal/domain"
)

// conventionalPorts maps well-known service names to their default listen port.
var conventionalPorts = map[string]int{
	"redis":         6379,
	"postgres":      5432,
	"postgresql":    5432,
	"mysql":         3306,
	"mariadb":       3306,
	"mongo":         27017,
	"mongodb":       27017,
	"nginx":         80,
	"rabbitmq":      5672,
	"memcached":     11211,
	"elasticsearch": 9200,
	"minio":         9000,
}

// ConventionalPort returns the default port for a service literally named after
// a well-known engine.
func ConventionalPort(serviceName string) (int, bool) {
	port, ok := conventionalPorts[strings.ToLower(strings.TrimSpace(serviceName))]
	return port, ok
}

// DiscoverPorts returns the ports declared by EXPOSE instructions, in order and
// without duplicates. Unparseable tokens (build args, ranges) are ignored.
func DiscoverPorts(dockerfile io.Reader) ([]int, error) {
	var ports []int
	seen := make(map[int]bool)

	scanner := bufio.NewScanner(dockerfile)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || !strings.EqualFold(fields[0], "EXPOSE") {
			continue
		}
		for _, tok := range fields[1:] {
			tok = strings.SplitN(tok, "/", 2)[0]
			port, err := strconv.Atoi(tok)
			if err != nil || port <= 0 || port > 65535 || seen[port] {
				continue
			}
			seen[port] = true
			ports = append(ports, port)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan build instructions: %w", err)
	}
	return ports, nil
}

// ResolvePort picks a service's internal port. Declared ports always win over
// the naming convention. dockerfile may be nil.
func ResolvePort(serviceName string, dockerfile io.Reader) (int, error) {
	if dockerfile != nil {
		ports, err := DiscoverPorts(dockerfile)
		if err != nil {
			return 0, err
		}
		if len(ports) > 0 {
			return ports[0], nil
		}
	}
	if port, ok := ConventionalPort(serviceName); ok {
		return port, nil
	}
	return 0, fmt.Errorf("%w for service %q", domain.ErrPortUnknown, serviceName)
}
