package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/registryx/regserver/internal/audit"
	"github.com/registryx/regserver/internal/authn"
	"github.com/registryx/regserver/internal/authz"
	"github.com/registryx/regserver/internal/blobstore"
	"github.com/registryx/regserver/internal/cache"
	"github.com/registryx/regserver/internal/config"
	"github.com/registryx/regserver/internal/distribution"
	"github.com/registryx/regserver/internal/email"
	"github.com/registryx/regserver/internal/manifest"
	"github.com/registryx/regserver/internal/store"
	"github.com/registryx/regserver/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	fmt.Printf("Starting RegServer on %s...\n", cfg.ListenAddress)

	blobs, err := blobstore.NewS3Driver(blobstore.S3Config{
		Endpoint:           cfg.S3Endpoint,
		Region:             cfg.S3Region,
		Bucket:             cfg.S3Bucket,
		AccessKey:          cfg.S3AccessKey,
		SecretKey:          cfg.S3SecretKey,
		UseSSL:             cfg.S3UseSSL,
		UsePathStyle:       cfg.S3UsePathStyle,
		MultipartThreshold: cfg.MultipartThreshold,
		PartSize:           cfg.PartSize,
		RetryAttempts:      cfg.StorageRetryAttempts,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage driver: %v", err)
	}

	var st *store.Store
	for i := 0; i < 10; i++ {
		st, err = store.Open(cfg.DatabaseURL, cfg.DatabaseMinConns, cfg.DatabaseMaxConns)
		if err == nil {
			break
		}
		log.Printf("Failed to connect to database (attempt %d/10): %v. Retrying in 2s...", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer st.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Cache will run memory-only.", err)
			redisClient = nil
		}
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	c := cache.New(redisClient, cache.TTLs{
		Manifest:     cfg.CacheManifestTTL,
		BlobMeta:     cfg.CacheBlobMetaTTL,
		Repositories: cfg.CacheRepositoriesTTL,
		Tags:         cfg.CacheTagsTTL,
		AuthToken:    cfg.CacheAuthTokenTTL,
		Permissions:  cfg.CachePermissionsTTL,
		APIKey:       cfg.CacheAPIKeyTTL,
		Session:      cfg.CacheSessionTTL,
	}, cfg.CacheMaxMemoryEntries)

	_ = email.NewService(email.Config{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})

	tokens := authn.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiration, "regserver")
	auth := authn.NewAuthenticator(st, c, tokens)
	az := authz.NewResolver(st, c)
	uploads := upload.NewManager(st, blobs, cfg.UploadSessionGrace)
	manifests := manifest.NewEngine(st, blobs, c)
	auditSvc := audit.NewService(st.DB())

	h := distribution.NewHandler("registryx", "registryx-registry", st, blobs, c, auth, az, uploads, manifests, auditSvc, cfg.EnableImmutableTags)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(cfg.UploadSessionGrace / 4)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				n, err := uploads.Sweep(sweepCtx)
				if err != nil {
					log.Printf("upload sweeper: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("upload sweeper: cancelled %d expired session(s)", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      h.Router(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
