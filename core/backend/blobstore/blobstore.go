// Package blobstore stores file attachments outside of the database.
// There are currently two possible backends: a local file system and AWS S3.
package blobstore

import "fmt"

// Driver is the interface of a blob store. Keys are slash separated paths
// like "orgs/<id>/photo", the content type travels with the blob but a
// driver may choose not to persist it.
type Driver interface {
	Put(key, contentType string, blob []byte) error
	Get(key string) ([]byte, error)
	DeleteAllWithPrefix(prefix string) error
}

// DriverType represents the different types of blob store drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no blob store. Files then live as bytea
// columns inside the database.
const None DriverType = ""

// Configuration contains the configuration for the blob store
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// NewDriver creates the configured driver. The None driver type yields a
// nil driver without error.
func NewDriver(config Configuration) (Driver, error) {
	switch config.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("local blob store requires a local configuration")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("S3 blob store requires an S3 configuration")
		}
		return NewS3(*config.S3Configuration)
	}
	return nil, fmt.Errorf("unknown blob store driver %q", config.DriverType)
}
