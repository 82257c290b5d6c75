package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	googleauth "esign-backend/internal/auth"
	"esign-backend/internal/certificates"
	"esign-backend/internal/documents"
	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/config"
	"esign-backend/internal/shared/metrics"
	"esign-backend/internal/shared/server/middleware"
	"esign-backend/internal/shared/server/respond"
	"esign-backend/internal/signing"
	"esign-backend/internal/users"
)

// signRateGroup throttles the token-authenticated signing routes; everything
// else passes unmetered.
const signRateGroup = "SIGN"

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config       config.Config
	Envelopes    *envelopes.Handler
	Documents    *documents.Handler
	Signing      *signing.Handler
	Certificates *certificates.Handler
	Users        *users.Handler
	GoogleAuth   *googleauth.GoogleService
}

// NewRouter constructs the Gin engine with middleware and routes registered.
// Sender routes sit behind JWT auth; the /sign routes authenticate with
// per-recipient access tokens instead.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Config.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				signRateGroup: {Rate: 5, Burst: 20},
			},
			GroupFor: func(c *gin.Context) string {
				if strings.HasPrefix(c.Request.URL.Path, "/api/v1/sign/") {
					return signRateGroup
				}
				return ""
			},
		}),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})

	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.Users != nil {
		deps.Users.RegisterRoutes(api)
	}
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(api)
	}
	if deps.Envelopes != nil {
		deps.Envelopes.RegisterRoutes(api)
	}
	if deps.Signing != nil {
		deps.Signing.RegisterPublicRoutes(api)
		deps.Signing.RegisterSenderRoutes(api)
	}
	if deps.Certificates != nil {
		deps.Certificates.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
