package addrspace

import (
	"strconv"
	"strings"
)

// Wildcard is the token that stands for every value of a position.
const Wildcard = "*"

// ExpandIP expands a four-token IPv4 pattern into concrete addresses.
//
// Every token must be "*" or a decimal integer in [0,255]; otherwise the
// result is empty. Only the last two octets are swept:
//
//	a.b.*.*  -> 65536 addresses, third octet major
//	a.b.c.*  -> 256 addresses
//	a.b.c.d  -> one address
//
// A wildcard in the first two octets is accepted but emitted literally.
func ExpandIP(parts [4]string) []string {
	for _, p := range parts {
		if !validOctet(p) {
			return []string{}
		}
	}

	prefix := parts[0] + "." + parts[1] + "."

	switch {
	case parts[2] == Wildcard && parts[3] == Wildcard:
		out := make([]string, 0, 256*256)
		for third := range 256 {
			base := prefix + strconv.Itoa(third) + "."
			for fourth := range 256 {
				out = append(out, base+strconv.Itoa(fourth))
			}
		}
		return out

	case parts[3] == Wildcard:
		base := prefix + parts[2] + "."
		out := make([]string, 0, 256)
		for fourth := range 256 {
			out = append(out, base+strconv.Itoa(fourth))
		}
		return out
	}

	return []string{prefix + parts[2] + "." + parts[3]}
}

// ExpandDomain expands a three-token domain pattern {prefix, count, suffix}
// into "{prefix}{i}.{suffix}" for i in [0, count).
//
// All tokens must be non-empty. A count that is not a non-negative integer
// yields no candidates; that is a valid outcome, not an error.
func ExpandDomain(parts [3]string) []string {
	for _, p := range parts {
		if p == "" {
			return []string{}
		}
	}

	count, err := strconv.Atoi(parts[1])
	if err != nil || count <= 0 {
		return []string{}
	}

	out := make([]string, 0, count)
	for i := range count {
		out = append(out, parts[0]+strconv.Itoa(i)+"."+parts[2])
	}
	return out
}

func validOctet(p string) bool {
	if p == Wildcard {
		return true
	}
	if p == "" || len(p) > 3 {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	n, err := strconv.Atoi(p)
	return err == nil && n <= 255
}

// ParseIPPattern splits dotted text such as "192.168.1.*" into its four
// tokens. It only checks the shape; values are validated by ExpandIP.
func ParseIPPattern(s string) ([4]string, bool) {
	var parts [4]string
	tokens := strings.Split(s, ".")
	if len(tokens) != 4 {
		return parts, false
	}
	copy(parts[:], tokens)
	return parts, true
}

// ParseDomainPattern splits "prefix,count,suffix" into its three tokens.
func ParseDomainPattern(s string) ([3]string, bool) {
	var parts [3]string
	tokens := strings.Split(s, ",")
	if len(tokens) != 3 {
		return parts, false
	}
	for i, t := range tokens {
		parts[i] = strings.TrimSpace(t)
	}
	return parts, true
}

// Expand turns one textual pattern into candidates. Text made only of digits,
// dots and wildcards is an IP pattern, text with commas is a domain pattern,
// and anything else is taken as a single literal host.
func Expand(pattern string) []string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return []string{}
	}

	if looksLikeIP(pattern) {
		parts, ok := ParseIPPattern(pattern)
		if !ok {
			return []string{}
		}
		return ExpandIP(parts)
	}

	if strings.Contains(pattern, ",") {
		parts, ok := ParseDomainPattern(pattern)
		if !ok {
			return []string{}
		}
		return ExpandDomain(parts)
	}

	return []string{pattern}
}

// ExpandAll expands every pattern and concatenates the results in order.
// Duplicates are kept; probing an address twice is harmless.
func ExpandAll(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		out = append(out, Expand(p)...)
	}
	return out
}

func looksLikeIP(s string) bool {
	return strings.Trim(s, "0123456789.*") == ""
}
