package utils

import (
	ua "github.com/mssola/user_agent"
)

// ClientInfo is the caller description stored on payment audit rows
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	OS      string `json:"os"`
	IsBot   bool   `json:"is_bot"`
	Raw     string `json:"raw"`
}

// ParseUserAgent parses a User-Agent header. Gateway webhooks identify
// themselves with a bot-style agent; browsers are reported by name.
func ParseUserAgent(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{Name: "unknown", Raw: userAgent}
	}

	parser := ua.New(userAgent)
	info := ClientInfo{
		IsBot: parser.Bot(),
		OS:    parser.OS(),
		Raw:   userAgent,
	}
	info.Name, info.Version = parser.Browser()
	if info.Name == "" {
		info.Name = "unknown"
	}
	return info
}

// Label is a short "name/version" tag for logs and audit rows
func (ci ClientInfo) Label() string {
	if ci.Version == "" {
		return ci.Name
	}
	return ci.Name + "/" + ci.Version
}
