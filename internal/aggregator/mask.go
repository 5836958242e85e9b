// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package aggregator

import "strings"

// maskIP keeps the first two octets of an IPv4 address and hides the rest.
// Anything that does not look like dotted-quad is fully hidden.
func maskIP(ip string) string {
	if ip == "" || ip == "-" {
		return ip
	}
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return "*.*.*.*"
	}
	return parts[0] + "." + parts[1] + ".*.*"
}

// maskHost keeps the first two and last characters of a hostname.
func maskHost(host string) string {
	if host == "" || host == "-" {
		return host
	}
	r := []rune(host)
	if len(r) <= 3 {
		return "***"
	}
	return string(r[:2]) + "***" + string(r[len(r)-1:])
}

// maskName keeps the first and last characters of a display name.
func maskName(name string) string {
	if name == "" || name == "-" {
		return name
	}
	r := []rune(name)
	if len(r) <= 2 {
		return "***"
	}
	return string(r[:1]) + "***" + string(r[len(r)-1:])
}
