package s3

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"complete", Config{Endpoint: "localhost:9000", Bucket: "kb"}, false},
		{"missing endpoint", Config{Bucket: "kb"}, true},
		{"missing bucket", Config{Endpoint: "localhost:9000"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigRegion(t *testing.T) {
	t.Setenv(AWS_REGION, "")
	t.Setenv(AWS_DEFAULT_REGION, "eu-west-1")

	c := Config{}
	assert.Equal(t, "eu-west-1", c.region())

	t.Setenv(AWS_REGION, "us-east-2")
	assert.Equal(t, "us-east-2", c.region())

	c.Region = "ap-south-1"
	assert.Equal(t, "ap-south-1", c.region())
}

func TestObjectName(t *testing.T) {
	s := &Store{config: Config{Prefix: "tenant-a"}}
	assert.Equal(t, "tenant-a/kbs/kb1/r/r1/e/t/body/metadata", s.objectName("kbs/kb1/r/r1/e/t/body/metadata"))

	s = &Store{}
	assert.Equal(t, "deadletter/p0/1/ab", s.objectName("deadletter/p0/1/ab"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusNotFound}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("connection reset")))
}
