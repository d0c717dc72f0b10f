package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP extracts the client IP address from the request.
//
// Priority order:
// 1. X-Real-IP header (set by reverse proxies like Nginx)
// 2. X-Forwarded-For header, first public address in the list
// 3. Gin's ClientIP() for direct connections
func GetRealIP(c *gin.Context) string {
	realIP := strings.TrimSpace(c.Request.Header.Get("X-Real-IP"))
	if realIP != "" && isValidIP(realIP) && !isPrivateIP(net.ParseIP(realIP)) {
		return realIP
	}

	// Format: X-Forwarded-For: client, proxy1, proxy2
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		for _, part := range strings.Split(forwarded, ",") {
			clientIP := strings.TrimSpace(part)
			if isValidIP(clientIP) && !isPrivateIP(net.ParseIP(clientIP)) && !IsLocalhost(clientIP) {
				return clientIP
			}
		}
	}

	return c.ClientIP()
}

// GetUserAgent returns the request's User-Agent or "Unknown"
func GetUserAgent(c *gin.Context) string {
	ua := c.Request.Header.Get("User-Agent")
	if ua == "" {
		return "Unknown"
	}
	return ua
}

// IsLocalhost checks if an IP address is localhost
func IsLocalhost(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}

var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"} {
		_, subnet, _ := net.ParseCIDR(cidr)
		nets = append(nets, subnet)
	}
	return nets
}()

// isPrivateIP checks if an IP is in a private range
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, subnet := range privateRanges {
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}
