package handler

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/portfolio/internal/service"
)

const forwardedForHeader = "X-Forwarded-For"

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, message)
		return false
	}
	return true
}

// requestContext 收集识别访客所需的请求信号，直连地址去掉端口。
func requestContext(c *gin.Context) service.RequestContext {
	remote := strings.TrimSpace(c.Request.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}

	return service.RequestContext{
		ForwardedFor: c.Request.Header.Values(forwardedForHeader),
		RemoteAddr:   remote,
		UserAgent:    c.Request.UserAgent(),
		Referer:      c.Request.Referer(),
	}
}

// sessionUsername returns the logged-in username, or "" when no session middleware is mounted.
func sessionUsername(c *gin.Context) string {
	if _, ok := c.Get(sessions.DefaultKey); !ok {
		return ""
	}
	if name, ok := sessions.Default(c).Get("username").(string); ok {
		return name
	}
	return ""
}
