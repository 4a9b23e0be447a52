package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/kimipdb306/scout-tdl/api"
	"github.com/kimipdb306/scout-tdl/board"
	"github.com/kimipdb306/scout-tdl/calendar"
	"github.com/kimipdb306/scout-tdl/calsync"
	"github.com/kimipdb306/scout-tdl/storage"
)

func main() {
	logger := log.New()
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	store, err := storage.New(dataDir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	boards := board.NewRegistry(store, logger)

	var records calsync.Records
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			log.Fatalf("invalid REDIS_CONNECTION_STRING: %v", err)
		}
		ttl := 90 * 24 * time.Hour
		if v := os.Getenv("SYNC_RECORD_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid SYNC_RECORD_TTL: %v", err)
			}
			ttl = d
		}
		records = calsync.NewRedisRecords(redis.NewClient(redisOpts), ttl)
	} else {
		records = calsync.NewMemoryRecords()
	}

	var backends []calsync.Backend
	if token := os.Getenv("OUTLOOK_TOKEN"); token != "" {
		backends = append(backends, calendar.NewOutlook(token, os.Getenv("OUTLOOK_GRAPH_ENDPOINT")))
	}
	if dir := os.Getenv("ICAL_DIR"); dir != "" {
		ical, err := calendar.NewICal(dir)
		if err != nil {
			log.Fatalf("ical: %v", err)
		}
		backends = append(backends, ical)
	}
	if account := os.Getenv("GOG_ACCOUNT"); account != "" {
		backends = append(backends, calendar.NewGoogle(account))
	}

	dispatcher := calsync.New(calsync.ConfigFromEnv(), backends, records, logger)
	defer dispatcher.Close()

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("scout_tdl"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, boards, dispatcher, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
