package rpcbroker

import (
	"fmt"
	"strconv"
	"strings"
)

// AutosetupRule generates a mount point for a device that logs in with
// a DeviceID but no explicit mount point, the same "deviceId plus
// roles decides where a device lands in the tree" policy a real
// deployment's config file expresses. RoleFilter, when non-empty,
// restricts the rule to peers holding at least one of the named
// roles; an empty RoleFilter matches any peer.
type AutosetupRule struct {
	DeviceIDMatch string // exact match against LoginRequest.DeviceID, "" matches any
	RoleFilter    []string
	MountPattern  string // e.g. "test/%i" or "shv/%d/%i"
}

func (r AutosetupRule) matches(deviceID string, roles []string) bool {
	if r.DeviceIDMatch != "" && r.DeviceIDMatch != deviceID {
		return false
	}
	if len(r.RoleFilter) == 0 {
		return true
	}
	for _, want := range r.RoleFilter {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// generateMountPoint expands the first matching autosetup rule's
// pattern, trying successive index values until the expansion
// collides with no existing mount (neither a prefix nor a suffix of
// one), the rule spec.md describes for resolving the %i/%I token.
// Returns "" if no rule matches, leaving the peer unmounted.
func (b *Broker) generateMountPoint(deviceID string, roles []string) string {
	var rule *AutosetupRule
	for i := range b.cfg.Autosetup {
		if b.cfg.Autosetup[i].matches(deviceID, roles) {
			rule = &b.cfg.Autosetup[i]
			break
		}
	}
	if rule == nil {
		return ""
	}

	b.mu.Lock()
	existing := make([]string, 0, len(b.mounts))
	for m := range b.mounts {
		existing = append(existing, m)
	}
	b.mu.Unlock()

	for idx := 0; idx < 100000; idx++ {
		candidate := expandMountPattern(rule.MountPattern, deviceID, idx)
		if !collidesWithAny(candidate, existing) {
			return candidate
		}
	}
	return ""
}

func collidesWithAny(candidate string, existing []string) bool {
	for _, e := range existing {
		if candidate == e || isStrictPrefix(candidate, e) || isStrictPrefix(e, candidate) {
			return true
		}
	}
	return false
}

// expandMountPattern substitutes the autosetup tokens:
//
//	%%  literal %
//	%i  decimal index, no padding
//	%I  decimal index, zero-padded to 3 digits
//	%d  the device id
//	%r  expands to nothing; role names are not substituted
//	%u  expands to nothing; the user name is not substituted
func expandMountPattern(pattern, deviceID string, index int) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i == len(pattern)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case '%':
			b.WriteByte('%')
		case 'i':
			b.WriteString(strconv.Itoa(index))
		case 'I':
			b.WriteString(fmt.Sprintf("%03d", index))
		case 'd':
			b.WriteString(deviceID)
		case 'r', 'u':
			// always expand to nothing: no role or user name is
			// passed in to substitute.
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return b.String()
}
