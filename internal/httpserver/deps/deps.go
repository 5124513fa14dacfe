package deps

import (
	"time"

	"github.com/MrSnakeDoc/realmlink/internal/connector"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/registry"
)

type Deps struct {
	Logger        logger.Logger
	StartTime     time.Time
	Version       string
	Commit        string
	BuildDate     string
	GoVersion     string
	TimeNow       func() time.Time   // for testing, defaults to time.Now
	AllowedHosts  []string           // Host headers allowed on the connector and peer endpoints
	AllowedCIDRS  []string           // IPs allowed to access healthz/readyz endpoints
	TrustProxy    bool               // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateBurst     int                // connector endpoint burst per client IP
	RateRefillMin int                // connector endpoint refill per minute
	StoreBackend  string             // "redis" | "memory", reported by readyz
	Registry      *registry.Registry // Service registry
	Connector     *connector.Handler // Connector protocol handler
}
