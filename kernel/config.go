package kernel

import (
	"context"
	"github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/matthewhartstonge/argon2"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
	"log"
	"os"
	"sync"
	"time"

	"git.sr.ht/~aondrejcak/mm-api/gateway"
	"git.sr.ht/~aondrejcak/mm-api/ledger"
	"git.sr.ht/~aondrejcak/mm-api/models"
	"git.sr.ht/~aondrejcak/mm-api/reconcile"
	"git.sr.ht/~aondrejcak/mm-api/resolver"
	"git.sr.ht/~aondrejcak/mm-api/sweep"
)

var (
	once       sync.Once
	appRuntime *AppRuntime
)

type AppRuntime struct {
	Host string

	ServiceName           string
	ServiceVersion        string
	DeploymentEnvironment string

	DatabaseDSN    string
	DatabaseClient *gorm.DB

	JaegerEndpoint     string
	PrometheusEndpoint string
	Insecure           bool

	GwUrl       string
	GwApiKey    string
	GwShortCode string

	// how long an unresolved attempt keeps being retried
	ExpiryWindow  time.Duration
	SweepInterval time.Duration
	WaitHorizon   time.Duration

	Ledger     *ledger.Ledger
	Gateway    *gateway.Client
	Reconciler *reconcile.Reconciler
	Resolver   *resolver.Resolver
	Sweeper    *sweep.Sweeper

	Diagnostic *AppDiagnostic

	Context context.Context

	// Ops admin JWT
	Realm       string
	IdentityKey string
	SecretKey   []byte
	JWT         *jwt.GinJWTMiddleware
}

func LoadConfig() *AppRuntime {
	once.Do(func() {
		appEnv := os.Getenv("API_ENV")
		if appEnv == "" {
			appEnv = "development"
		}

		var env map[string]string
		env, err := godotenv.Read(".env." + appEnv)
		if err != nil {
			log.Fatal(err)
		}

		appRuntime = &AppRuntime{
			Host:        env["HOST"],
			DatabaseDSN: env["DATABASE_DSN"],

			ServiceName:           env["SERVICE_NAME"],
			ServiceVersion:        env["SERVICE_VERSION"],
			DeploymentEnvironment: env["DEPLOY_ENV"],

			JaegerEndpoint:     env["JAEGER_ENDPOINT"],
			PrometheusEndpoint: env["PROMETHEUS_ENDPOINT"],
			Insecure:           env["INSECURE"] == "true",

			GwUrl:       env["GW_API_URL"],
			GwApiKey:    env["GW_API_KEY"],
			GwShortCode: env["GW_SHORTCODE"],

			ExpiryWindow:  durationOr(env["PAYMENT_EXPIRY_WINDOW"], 2*time.Hour),
			SweepInterval: durationOr(env["SWEEP_INTERVAL"], 5*time.Minute),
			WaitHorizon:   durationOr(env["WAIT_HORIZON"], 90*time.Second),

			Diagnostic: &AppDiagnostic{
				Tracer: otel.Tracer(env["SERVICE_NAME"] + "-tracer"),
				Meter:  otel.Meter(env["SERVICE_NAME"] + "-meter"),
			},

			Realm:       env["SEC_JWT_REALM"],
			IdentityKey: env["SEC_JWT_IDENTITY_KEY"],
			SecretKey:   []byte(env["SEC_JWT_SECRET_KEY"]),
		}

		appRuntime.JWT, err = jwt.New(&jwt.GinJWTMiddleware{
			Realm:         appRuntime.Realm,
			Key:           appRuntime.SecretKey,
			IdentityKey:   appRuntime.IdentityKey,
			Timeout:       time.Hour * 24, // ops sessions, not API tokens
			Authenticator: adminAuthenticator,
			PayloadFunc: func(data interface{}) jwt.MapClaims {
				if admin, ok := data.(*models.Admin); ok {
					return jwt.MapClaims{appRuntime.IdentityKey: admin.Email}
				}
				return jwt.MapClaims{}
			},
		})
		if err != nil {
			log.Fatal(err)
		}
	})
	return appRuntime
}

func adminAuthenticator(c *gin.Context) (interface{}, error) {
	var login struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&login); err != nil {
		return nil, jwt.ErrMissingLoginValues
	}

	var admin models.Admin
	res := appRuntime.DatabaseClient.First(&admin, "email = ?", login.Email)
	if res.Error != nil {
		return nil, jwt.ErrFailedAuthentication
	}

	ok, err := argon2.VerifyEncoded([]byte(login.Password), []byte(admin.PasswordHash))
	if err != nil || !ok {
		return nil, jwt.ErrFailedAuthentication
	}

	return &admin, nil
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid duration %q, using %s", raw, fallback)
		return fallback
	}
	if d <= 0 {
		return fallback
	}
	return d
}
