package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"pastelcraft.ai/internal/persistence/r2s3"
)

// buildMirror returns nil unless VC_R2_MIRROR is set. Keys may be left out to
// use the standard AWS credential chain.
func buildMirror(ctx context.Context, dataDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("VC_R2_MIRROR", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("VC_R2_ENDPOINT")),
		Bucket:          strings.TrimSpace(os.Getenv("VC_R2_BUCKET")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("VC_R2_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("VC_R2_SECRET_ACCESS_KEY")),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("VC_R2_MIRROR=true but VC_R2_ENDPOINT/VC_R2_BUCKET are not set")
	}
	client, err := r2s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return r2s3.NewMirror(client, dataDir, r2s3.Options{
		Prefix:  strings.TrimSpace(os.Getenv("VC_R2_PREFIX")),
		Workers: envInt("VC_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
