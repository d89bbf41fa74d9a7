// Package target maps symbolic benchmark target names to concrete endpoints.
package target

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// ID is a symbolic benchmark target name.
type ID string

// Reference is the reference peer baked into the provisioned topology.
const Reference ID = "reference"

// Endpoint is a resolved TCP endpoint.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the endpoint in host:port form.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}

// ProxyEndpoint is the fixed local proxy the client under test exposes.
// The workload generator routes all traffic through it.
var ProxyEndpoint = Endpoint{Host: "127.0.0.1", Port: 9150}

// table is the closed enumeration of supported targets. The reference
// endpoint's port is a property of how the provisioner lays out the
// simulated network, so entries are added explicitly rather than
// discovered at runtime.
var table = map[ID]Endpoint{
	Reference: {Host: "127.0.0.1", Port: 9008},
}

// UnknownTargetError reports a target name outside the supported set.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown benchmark target %q (supported: %v)", e.Name, Known())
}

// Resolve maps a symbolic target name to its endpoint. Unrecognized
// names fail; there is no default endpoint.
func Resolve(name string) (Endpoint, error) {
	ep, ok := table[ID(name)]
	if !ok {
		return Endpoint{}, &UnknownTargetError{Name: name}
	}
	return ep, nil
}

// Known returns the supported target names, sorted.
func Known() []string {
	names := make([]string, 0, len(table))
	for id := range table {
		names = append(names, string(id))
	}
	sort.Strings(names)
	return names
}
