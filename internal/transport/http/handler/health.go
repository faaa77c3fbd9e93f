package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Dependency is one health probe. Only a failing required dependency turns
// the endpoint unhealthy; optional ones report degraded.
type Dependency struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

type HealthHandler struct {
	app       string
	env       string
	startedAt time.Time
	deps      []Dependency
}

type dependencyStatus struct {
	OK       bool   `json:"ok"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
}

func NewHealthHandler(app, env string, startedAt time.Time, deps ...Dependency) *HealthHandler {
	return &HealthHandler{app: app, env: env, startedAt: startedAt, deps: deps}
}

func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	statusCode := http.StatusOK
	deps := make(gin.H, len(h.deps))
	for _, d := range h.deps {
		s := dependencyStatus{OK: true, Required: d.Required}
		if err := d.Check(ctx); err != nil {
			s.OK, s.Message = false, err.Error()
			if d.Required {
				status, statusCode = "down", http.StatusServiceUnavailable
			} else if status == "ok" {
				status = "degraded"
			}
		}
		deps[d.Name] = s
	}

	c.JSON(statusCode, gin.H{
		"app":          h.app,
		"env":          h.env,
		"status":       status,
		"uptime_sec":   int(time.Since(h.startedAt).Seconds()),
		"dependencies": deps,
	})
}
