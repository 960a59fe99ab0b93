package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GetClientIP resolves the caller's address behind proxies. Checked in order:
// Cloudflare header, first X-Forwarded-For hop, then the socket address.
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := c.Get("CF-Connecting-IP"); cfIP != "" {
		return cfIP
	}
	if fwd := c.Get(fiber.HeaderXForwardedFor); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	return c.IP()
}
