package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	appconfig "github.com/ShopCurated/curator-go/pkg/config"
)

// CORSMiddleware allows the configured storefront origins to call the
// widget API. Credentials stay enabled because the visitor id cookie may
// ride along on same-site storefront setups.
func CORSMiddleware() gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: appconfig.AllowedOrigins,
		AllowMethods: []string{
			"GET", "POST", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			"X-Curator-Visitor-ID", "X-Requested-With",
			"Cache-Control",
		},
		AllowCredentials: true,
		ExposeHeaders: []string{
			"Content-Type", "Cache-Control", "Connection",
		},
	}

	return cors.New(config)
}
