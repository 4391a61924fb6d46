// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Portsample Contributors

package source

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// AnyInterface selects every non-loopback interface.
const AnyInterface = "any"

// ResolveInterfaces turns an interface setting into the interfaces to
// capture on. "any" returns all non-loopback interfaces; otherwise it is a
// comma separated list of names, deduplicated in order. Unknown names are
// an error unless skipMissing is set.
func ResolveInterfaces(list string, skipMissing bool) ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return filterInterfaces(all, list, skipMissing)
}

func filterInterfaces(all []net.Interface, list string, skipMissing bool) ([]net.Interface, error) {
	if strings.TrimSpace(list) == AnyInterface {
		var out []net.Interface
		for _, iface := range all {
			if iface.Flags&net.FlagLoopback == 0 {
				out = append(out, iface)
			}
		}
		slog.Debug("interfaces filter any: non-loopback", "matched", len(out))
		return out, nil
	}

	byName := make(map[string]net.Interface, len(all))
	for _, iface := range all {
		byName[iface.Name] = iface
	}
	var out []net.Interface
	seen := make(map[string]struct{})
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		iface, ok := byName[name]
		if !ok {
			if skipMissing {
				slog.Debug("interface not found, skipping", "name", name)
				continue
			}
			return nil, fmt.Errorf("interface %q not found", name)
		}
		out = append(out, iface)
	}
	return out, nil
}

// InterfaceNames formats interfaces for logging.
func InterfaceNames(ifaces []net.Interface) []string {
	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = stableInterfaceName(iface) + " (index " + fmt.Sprint(iface.Index) + ")"
	}
	return names
}

func stableInterfaceName(iface net.Interface) string {
	if iface.Name != "" {
		return iface.Name
	}
	return fmt.Sprintf("%d", iface.Index)
}
