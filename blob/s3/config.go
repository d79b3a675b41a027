package s3

import (
	"errors"
	"os"
)

const (
	AWS_REGION         = "AWS_REGION"
	AWS_DEFAULT_REGION = "AWS_DEFAULT_REGION"
)

// Config describes an S3 compatible bucket.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	// CreateBucket makes the bucket on startup when it does not exist.
	CreateBucket bool `yaml:"create_bucket"`
}

func (c *Config) region() string {
	if c.Region != "" {
		return c.Region
	}
	if region := os.Getenv(AWS_REGION); region != "" {
		return region
	}
	return os.Getenv(AWS_DEFAULT_REGION)
}

// Validate checks the required settings.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("s3: endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	return nil
}
