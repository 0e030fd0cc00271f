// ABOUTME: Resolves caller-supplied agent references and destination tokens.
// ABOUTME: Read-only registry lookups; ambiguous results are errors, never auto-selected.

package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/carelink/relay/internal/device"
)

// Registry is the slice of the agent/device registry the relay reads.
type Registry interface {
	GetAgent(ctx context.Context, id string) (*device.Agent, error)
	GetAgentByIdentifier(ctx context.Context, system, value string) (*device.Agent, error)
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	SearchDevices(ctx context.Context, params device.SearchParams) ([]*device.Device, error)
}

var (
	// deviceRefPattern matches a direct device reference: Device/<id>.
	deviceRefPattern = regexp.MustCompile(`^Device/([A-Za-z0-9.\-]{1,64})$`)

	// rawAddressPattern matches an address-shaped string: host or host:port.
	rawAddressPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+(:[0-9]+)?$`)
)

// resolveAgent turns an agent reference into a registered agent. The
// reference is either a direct agent ID or an external identifier pair in
// the form "system|value".
func (s *Service) resolveAgent(ctx context.Context, ref string) (*device.Agent, error) {
	if ref == "" {
		return nil, ErrAgentNotFound
	}

	var agent *device.Agent
	var err error
	if system, value, ok := strings.Cut(ref, "|"); ok {
		agent, err = s.registry.GetAgentByIdentifier(ctx, system, value)
	} else {
		agent, err = s.registry.GetAgent(ctx, ref)
	}

	if errors.Is(err, device.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up agent %q: %w", ref, err)
	}
	return agent, nil
}

// resolveDestination turns a destination token into the address string the
// agent will dial. Accepted forms:
//
//   - Device/<id>: direct reference; the device must carry an address
//   - Device?param=value: search expression that must match exactly one device
//   - a raw address string, accepted only for the ping content type
//
// Anything else fails with ErrDestinationNotFound. A search matching zero
// or more than one device fails the same way; the resolver never picks one
// of several matches.
func (s *Service) resolveDestination(ctx context.Context, token string, contentType ContentType) (string, error) {
	if m := deviceRefPattern.FindStringSubmatch(token); m != nil {
		dev, err := s.registry.GetDevice(ctx, m[1])
		if errors.Is(err, device.ErrNotFound) {
			return "", ErrDestinationNotFound
		}
		if err != nil {
			return "", fmt.Errorf("looking up device %q: %w", m[1], err)
		}
		if dev.Address == "" {
			return "", ErrMissingAddress
		}
		return dev.Address, nil
	}

	if params, ok := parseDeviceSearch(token); ok {
		devices, err := s.registry.SearchDevices(ctx, params)
		if err != nil {
			return "", fmt.Errorf("searching devices %q: %w", token, err)
		}
		if len(devices) != 1 {
			return "", ErrDestinationNotFound
		}
		if devices[0].Address == "" {
			return "", ErrMissingAddress
		}
		return devices[0].Address, nil
	}

	// A bare address is passed through unresolved, but only for pings:
	// the agent probes it directly and no device record is involved.
	if contentType == ContentTypePing && rawAddressPattern.MatchString(token) {
		return token, nil
	}

	return "", ErrDestinationNotFound
}

// parseDeviceSearch parses a Device?param=value search expression into
// search parameters. Returns false for tokens that are not device searches
// or that use a parameter the registry cannot match on; either way the
// caller reports ErrDestinationNotFound.
func parseDeviceSearch(token string) (device.SearchParams, bool) {
	resource, query, ok := strings.Cut(token, "?")
	if !ok || resource != "Device" || query == "" {
		return device.SearchParams{}, false
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return device.SearchParams{}, false
	}

	var params device.SearchParams
	for key, vals := range values {
		if len(vals) != 1 {
			return device.SearchParams{}, false
		}
		switch key {
		case "name":
			params.Name = vals[0]
		case "status":
			params.Status = vals[0]
		case "identifier":
			params.Identifier = vals[0]
		case "address":
			params.Address = vals[0]
		default:
			return device.SearchParams{}, false
		}
	}
	return params, true
}
