// Package iplookup finds the address a request originates from.
package iplookup

import (
	"errors"
	"net"
	"net/http"
	"strings"
)

var cidrs []*net.IPNet

func init() {
	maxCIDRBlocks := []string{
		"127.0.0.1/8",    // localhost
		"10.0.0.0/8",     // 24-bit block
		"172.16.0.0/12",  // 20-bit block
		"192.168.0.0/16", // 16-bit block
		"169.254.0.0/16", // link local address
		"::1/128",        // localhost IPv6
		"fc00::/7",       // unique local address IPv6
		"fe80::/10",      // link local address IPv6
	}

	cidrs = make([]*net.IPNet, len(maxCIDRBlocks))
	for i, maxCIDRBlock := range maxCIDRBlocks {
		_, cidr, _ := net.ParseCIDR(maxCIDRBlock)
		cidrs[i] = cidr
	}
}

// isPrivateAddress reports whether the address is under a private CIDR block.
// List of private CIDR blocks can be seen on :
//
// https://en.wikipedia.org/wiki/Private_network
// https://en.wikipedia.org/wiki/Link-local_address
func isPrivateAddress(address string) (bool, error) {
	ipAddress := net.ParseIP(address)
	if ipAddress == nil {
		return false, errors.New("address is not valid")
	}

	for i := range cidrs {
		if cidrs[i].Contains(ipAddress) {
			return true, nil
		}
	}

	return false, nil
}

// FromRequest identifies the remote ip of an http request: the first
// public address of X-Forwarded-For, then X-Real-Ip, then the address of
// the connection.
func FromRequest(r *http.Request) string {
	if xForwardedFor := r.Header.Get("X-Forwarded-For"); xForwardedFor != "" {
		for _, address := range strings.Split(xForwardedFor, ",") {
			address = strings.TrimSpace(address)
			isPrivate, err := isPrivateAddress(address)
			if !isPrivate && err == nil {
				return address
			}
		}
	}
	if xRealIP := r.Header.Get("X-Real-Ip"); xRealIP != "" {
		return xRealIP
	}
	// strip the port when there is one
	if remoteIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return remoteIP
	}
	return r.RemoteAddr
}
