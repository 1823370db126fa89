package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7/pkg/s3utils"
	"github.com/spf13/viper"
)

// MinIOConfig describes the bucket holding revision content too large to keep
// inline in the document store.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every object key so environments can share a bucket.
	Prefix string
}

// LoadMinIOConfig loads MinIO config from the environment
func LoadMinIOConfig() *MinIOConfig {
	viper.AutomaticEnv()
	viper.SetDefault("MINIO_BUCKET", "streamline-revisions")
	return &MinIOConfig{
		Endpoint:  viper.GetString("MINIO_ENDPOINT"),
		AccessKey: viper.GetString("MINIO_ACCESS_KEY"),
		SecretKey: viper.GetString("MINIO_SECRET_KEY"),
		UseSSL:    viper.GetBool("MINIO_USE_SSL"),
		Bucket:    viper.GetString("MINIO_BUCKET"),
		Prefix:    normalizePrefix(viper.GetString("MINIO_KEY_PREFIX")),
	}
}

// Validate reports a missing endpoint or an invalid bucket name.
func (c *MinIOConfig) Validate() error {
	if c == nil || c.Endpoint == "" {
		return errors.New("minio config missing")
	}
	return s3utils.CheckValidBucketNameStrict(c.Bucket)
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
