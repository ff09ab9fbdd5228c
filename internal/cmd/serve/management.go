package serve

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/security"
)

// newManagementServer builds the plain-HTTP health/ready/metrics surface.
// Unlike the donor's TLS+cmux dual-listener management server, memoryd
// exposes a single unauthenticated local listener: there is no gRPC surface
// to multiplex alongside it.
func newManagementServer(addr string, store registrystore.Store) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	r.Use(security.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if _, err := store.ListAll(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &http.Server{Addr: addr, Handler: r}
}

func runManagement(ctx context.Context, srv *http.Server) {
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("management server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("management server shutdown failed", "error", err)
	}
}
