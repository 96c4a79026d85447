package utils

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Client object storage operations used to archive recordings
type S3Client interface {
	/*
		EnsureBucket create a bucket if it does not exist yet

			@param ctxt context.Context - execution context
			@param bucketName string - bucket name
	*/
	EnsureBucket(ctxt context.Context, bucketName string) error

	/*
		UploadFile stream a local file into a bucket

			@param ctxt context.Context - execution context
			@param bucketName string - target bucket name
			@param objectKey string - target object name within the bucket
			@param filePath string - local file
	*/
	UploadFile(ctxt context.Context, bucketName, objectKey, filePath string) error

	/*
		ListObjects list the objects of a bucket under a key prefix

			@param ctxt context.Context - execution context
			@param bucketName string - bucket name
			@param prefix string - object key prefix
			@returns the object keys
	*/
	ListObjects(ctxt context.Context, bucketName, prefix string) ([]string, error)

	/*
		DeleteObjects delete a group of objects from a bucket. Unknown objects are ignored.

			@param ctxt context.Context - execution context
			@param bucketName string - target bucket name
			@param objectKeys []string - target object names within the bucket
	*/
	DeleteObjects(ctxt context.Context, bucketName string, objectKeys []string) error
}

// s3ClientImpl implements S3Client
type s3ClientImpl struct {
	goutils.Component
	s3 *minio.Client
}

/*
NewS3Client define new S3 operation client

	@param config common.S3Config - S3 client config
	@returns new client
*/
func NewS3Client(config common.S3Config) (S3Client, error) {
	logTags := log.Fields{
		"module":    "utils",
		"component": "s3-client",
		"instance":  config.ServerEndpoint,
	}

	options := &minio.Options{Secure: config.UseTLS}
	if config.Creds != nil {
		options.Creds = credentials.NewStaticV4(
			config.Creds.AccessKey, config.Creds.SecretAccessKey, "",
		)
	} else {
		options.Creds = credentials.NewEnvAWS()
	}

	// Define the core minio client
	client, err := minio.New(config.ServerEndpoint, options)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define minio S3 client")
		return nil, err
	}

	return &s3ClientImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		}, s3: client,
	}, nil
}

func (s *s3ClientImpl) EnsureBucket(ctxt context.Context, bucketName string) error {
	logTags := s.GetLogTagsForContext(ctxt)
	exists, err := s.s3.BucketExists(ctxt, bucketName)
	if err != nil {
		log.WithError(err).WithFields(logTags).WithField("bucket", bucketName).Error("Bucket query failed")
		return err
	}
	if exists {
		return nil
	}
	if err := s.s3.MakeBucket(ctxt, bucketName, minio.MakeBucketOptions{}); err != nil {
		log.WithError(err).WithFields(logTags).WithField("bucket", bucketName).Error("Bucket create failed")
		return err
	}
	log.WithFields(logTags).WithField("bucket", bucketName).Info("Created bucket")
	return nil
}

func (s *s3ClientImpl) UploadFile(
	ctxt context.Context, bucketName, objectKey, filePath string,
) error {
	logTags := s.GetLogTagsForContext(ctxt)
	info, err := s.s3.FPutObject(ctxt, bucketName, objectKey, filePath, minio.PutObjectOptions{})
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("bucket", bucketName).
			WithField("object", objectKey).
			Error("File upload failed")
		return err
	}
	log.
		WithFields(logTags).
		WithField("bucket", bucketName).
		WithField("object", objectKey).
		WithField("size", info.Size).
		Debug("Uploaded file")
	return nil
}

func (s *s3ClientImpl) ListObjects(
	ctxt context.Context, bucketName, prefix string,
) ([]string, error) {
	keys := []string{}
	for object := range s.s3.ListObjects(
		ctxt, bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true},
	) {
		if object.Err != nil {
			return nil, object.Err
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

func (s *s3ClientImpl) DeleteObjects(
	ctxt context.Context, bucketName string, objectKeys []string,
) error {
	logTags := s.GetLogTagsForContext(ctxt)

	objects := make(chan minio.ObjectInfo, len(objectKeys))
	for _, key := range objectKeys {
		objects <- minio.ObjectInfo{Key: key}
	}
	close(objects)

	failed := 0
	for result := range s.s3.RemoveObjects(ctxt, bucketName, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			failed++
			log.
				WithError(result.Err).
				WithFields(logTags).
				WithField("bucket", bucketName).
				WithField("object", result.ObjectName).
				Error("Object delete failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d object deletes failed", failed, len(objectKeys))
	}
	return nil
}
