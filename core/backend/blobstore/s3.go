package blobstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/qvarn/core/logger"
)

// S3Configuration contains the configuration for the AWS S3 blob store
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
}

// S3 is the implementation of the blob store for AWS S3
type S3 struct {
	config    aws.Config
	bucket    string
	keyPrefix string
}

// NewS3 returns a new S3
func NewS3(s3Config S3Configuration) (*S3, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	cfg, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(s3Config.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("blob store: S3 bucket", s3Config.AWSBucketName)
	s := S3{config: cfg, bucket: s3Config.AWSBucketName, keyPrefix: s3Config.KeyPrefix}
	return &s, nil
}

// Put uploads the blob for a key. Large blobs are uploaded in parts.
func (s *S3) Put(key, contentType string, blob []byte) error {
	uploader := manager.NewUploader(s3.NewFromConfig(s.config))
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
		Body:   bytes.NewReader(blob),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := uploader.Upload(context.TODO(), input)
	return err
}

// Get downloads the blob for a key.
func (s *S3) Get(key string) ([]byte, error) {
	downloader := manager.NewDownloader(s3.NewFromConfig(s.config))
	buffer := manager.NewWriteAtBuffer([]byte{})
	_, err := downloader.Download(context.TODO(), buffer, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// DeleteAllWithPrefix deletes all keys starting with the prefix.
func (s *S3) DeleteAllWithPrefix(prefix string) error {
	client := s3.NewFromConfig(s.config)

	var continuationToken *string
	for {
		resp, err := client.ListObjectsV2(context.TODO(), &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.keyPrefix + prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			logger.Default().Error("Could not ListObjectsV2 from ", s.bucket)
			return err
		}
		for _, item := range resp.Contents {
			_, err := client.DeleteObject(context.TODO(), &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    item.Key,
			})
			if err != nil {
				logger.Default().Error("Could not delete ", *item.Key)
				return err
			}
		}
		continuationToken = resp.NextContinuationToken
		if continuationToken == nil {
			break
		}
	}
	return nil
}
