package api

import (
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	config "github.com/mwantia/imghost/internal/config/server"
)

// baseURL returns the public url prefix for links to local images. A configured
// public url wins; otherwise it is derived from the request and, when trusted,
// the forwarding headers of a reverse proxy.
func baseURL(c *gin.Context, cfg config.HTTPServerConfig) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	host := c.Request.Host

	if cfg.TrustForwards {
		if proto := forwardedProto(c); proto != "" {
			scheme = proto
		}
		if forwarded := c.GetHeader("X-Forwarded-Host"); forwarded != "" {
			host = strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
	}

	return scheme + "://" + host
}

func forwardedProto(c *gin.Context) string {
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	if strings.EqualFold(c.GetHeader("X-Forwarded-Ssl"), "on") {
		return "https"
	}
	if scheme := c.GetHeader("X-Forwarded-Scheme"); scheme != "" {
		return strings.ToLower(strings.TrimSpace(scheme))
	}
	if visitor := c.GetHeader("CF-Visitor"); visitor != "" {
		var parsed struct {
			Scheme string `json:"scheme"`
		}
		if err := json.Unmarshal([]byte(visitor), &parsed); err == nil && parsed.Scheme != "" {
			return strings.ToLower(parsed.Scheme)
		}
	}
	return ""
}
