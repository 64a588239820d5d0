package main

import (
	"fmt"

	"go.uber.org/zap"

	"itemgen.ai/internal/persistence/r2s3"
)

// buildBackupMirror returns nil unless ITEMGEN_MIRROR is set.
func buildBackupMirror(logger *zap.Logger) (*r2s3.Mirror, error) {
	if !envBool("ITEMGEN_MIRROR", false) {
		return nil, nil
	}
	cfg := r2s3.Config{
		Endpoint:        envString("ITEMGEN_MIRROR_ENDPOINT", ""),
		Bucket:          envString("ITEMGEN_MIRROR_BUCKET", ""),
		Region:          envString("ITEMGEN_MIRROR_REGION", "auto"),
		AccessKeyID:     envString("ITEMGEN_MIRROR_ACCESS_KEY_ID", ""),
		SecretAccessKey: envString("ITEMGEN_MIRROR_SECRET_ACCESS_KEY", ""),
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("ITEMGEN_MIRROR=true: %w", err)
	}
	return r2s3.NewMirror(client, envString("ITEMGEN_MIRROR_PREFIX", "backups"), envInt("ITEMGEN_MIRROR_WORKERS", 1), logger), nil
}
