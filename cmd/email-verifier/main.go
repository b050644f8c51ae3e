package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"

	"github.com/mailward/email-verifier/internal/auth"
	"github.com/mailward/email-verifier/internal/cache"
	"github.com/mailward/email-verifier/internal/checker"
	"github.com/mailward/email-verifier/internal/disposable"
	"github.com/mailward/email-verifier/internal/helo"
	"github.com/mailward/email-verifier/internal/logger"
	"github.com/mailward/email-verifier/internal/server"
	"github.com/mailward/email-verifier/internal/storage"
)

// Version information populated at build time
var (
	Version    = "0.0.1"
	CommitHash = ""
)

func printVersion() {
	fmt.Printf("email-verifier version: %s\n", Version)
	if CommitHash != "" {
		fmt.Printf("commit hash: %s\n", CommitHash)
	}
}

// Entry point with dual operational modes: one-shot CLI and HTTP server
func main() {
	dnsServer := flag.String("dns", "1.1.1.1", "DNS server IP address")
	emails := flag.String("emails", "", "Comma-separated email addresses")
	maxWorkers := flag.Int("workers", 10, "Number of concurrent workers")
	checkSMTP := flag.Bool("smtp", false, "Probe SMTP deliverability")
	checkDNS := flag.Bool("mx", true, "Check MX records")
	checkWHOIS := flag.Bool("whois", false, "Attach WHOIS data to reports")
	strict := flag.Bool("strict", false, "Strict email format validation")
	allowFile := flag.String("allow-list", "", "Path to allowlist file, one domain per line")
	blackFile := flag.String("black-list", "", "Path to blacklist file, one domain per line")
	redisNodes := flag.String("redis", "", "Redis nodes (comma-separated, format: host:port)")
	redisPass := flag.String("redis-pass", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database number")
	serverPort := flag.String("port", "8080", "Server port")
	serverMode := flag.Bool("server", false, "Run in server mode")
	adminKey := flag.String("admin-key", "", "Admin API key for key management endpoints")
	pgHost := flag.String("pg-host", "", "PostgreSQL host (enables API key enforcement)")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "postgres", "PostgreSQL user")
	pgPass := flag.String("pg-password", "", "PostgreSQL password")
	pgDB := flag.String("pg-db", "email_verifier", "PostgreSQL database name")
	pgSSL := flag.String("pg-ssl", "disable", "PostgreSQL SSL mode")
	version := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *version {
		printVersion()
		return
	}

	// Expose flags through viper for components that read configuration
	viper.Set("admin-key", *adminKey)
	viper.Set("pg-host", *pgHost)
	viper.Set("pg-port", *pgPort)
	viper.Set("pg-user", *pgUser)
	viper.Set("pg-password", *pgPass)
	viper.Set("pg-db", *pgDB)
	viper.Set("pg-ssl", *pgSSL)

	cfg := checker.DefaultConfig()
	cfg.StrictValidation = *strict
	cfg.CheckMXRecord = *checkDNS
	cfg.CheckSMTPDeliverability = *checkSMTP
	cfg.CheckWHOIS = *checkWHOIS
	cfg.DNS.FallbackServers = []string{*dnsServer}
	cfg.DNS.Concurrency = *maxWorkers
	cfg.SMTP.Concurrency = *maxWorkers

	if *serverMode {
		startServerMode(cfg, *serverPort, *redisNodes, *redisPass, *redisDB, *maxWorkers, *allowFile, *blackFile)
		return
	}

	if *emails == "" {
		printVersion()
		log.Fatal("Please specify emails using --emails flag")
	}
	logger.Init(false)

	chk, err := checker.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize checker: %v", err)
	}
	defer chk.Close()

	loadDomainLists(chk, *allowFile, *blackFile)

	results := chk.CheckEmailsBatch(context.Background(), strings.Split(*emails, ","))
	logger.Flush()

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(jsonData))
}

// loadDomainLists fetches the disposable dataset and local lists into the
// checker's indexes. A fetch failure leaves the indexes empty but usable.
func loadDomainLists(chk *checker.Checker, allowFile, blackFile string) {
	lists, err := disposable.NewLoader(allowFile, blackFile).Fetch()
	if err != nil {
		logger.Logf("Failed to load disposable domains: %v", err)
		return
	}
	if err := chk.LoadDomainLists(lists.Disposable, lists.Allowed, lists.Blacklisted); err != nil {
		logger.Logf("Failed to index domain lists: %v", err)
	}
}

// startServerMode wires Redis, PostgreSQL and the checker into the HTTP server
func startServerMode(cfg checker.Config, port, redisNodes, redisPass string, redisDB, maxWorkers int, allowFile, blackFile string) {
	logger.Init(true)

	var redisClient redis.UniversalClient
	var cacheProvider cache.Provider
	var store storage.Storage
	var isCluster bool

	if redisNodes != "" {
		nodes := strings.Split(redisNodes, ",")
		isCluster = len(nodes) > 1

		if isCluster {
			redisClient = redis.NewClusterClient(&redis.ClusterOptions{
				Addrs:    nodes,
				Password: redisPass,
			})
		} else {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     nodes[0],
				Password: redisPass,
				DB:       redisDB,
			})
		}

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Redis connection failed: %v", err)
		}

		cacheProvider = cache.NewRedisCache(redisClient)
		store = storage.NewRedisStorage(redisClient)
		logger.Logf("Using Redis storage: %v (cluster: %v)", nodes, isCluster)
	} else {
		cacheProvider = cache.NewInMemoryCache()
		store = storage.NewMemoryStorage(cacheProvider)
		logger.Log("Using in-memory storage")
	}

	cfg.CacheProvider = cacheProvider
	chk, err := checker.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize checker: %v", err)
	}
	if isCluster {
		chk.SetHeloRotation(helo.NewRotation(nil, true, redisClient))
	}

	loadDomainLists(chk, allowFile, blackFile)

	// PostgreSQL is optional; without it the API runs unauthenticated
	var db *sqlx.DB
	var authService *auth.Service
	if viper.GetString("pg-host") != "" {
		db, err = storage.InitPostgres(viper.GetViper())
		if err != nil {
			log.Fatalf("PostgreSQL connection failed: %v", err)
		}
		authService = auth.NewService(db, redisClient, isCluster)
		logger.Log("API key enforcement enabled")
	}

	srv := server.NewServer(server.Options{
		Storage:     store,
		RedisClient: redisClient,
		DB:          db,
		Auth:        authService,
		Checker:     chk,
		Port:        port,
		MaxWorkers:  maxWorkers,
		ClusterMode: isCluster,
	})

	logger.Logf("Starting server on port %s | Workers: %d | Redis: %v | Cluster: %v",
		port, maxWorkers, redisNodes != "", isCluster)
	logger.Flush()

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
