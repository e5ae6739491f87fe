package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// S3API is the subset of the S3 client used by JCDS uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3ClientFactory builds an S3 client scoped to one upload's temporary credentials.
type S3ClientFactory func(ctx context.Context, creds jamf.TemporaryCredentials) (S3API, error)

// DefaultS3ClientFactory returns a factory for AWS S3 clients that send
// through httpClient.
func DefaultS3ClientFactory(httpClient *http.Client) S3ClientFactory {
	return func(ctx context.Context, creds jamf.TemporaryCredentials) (S3API, error) {
		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(creds.Region),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
			),
			config.WithHTTPClient(httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}

		return s3.NewFromConfig(cfg), nil
	}
}

// objectRef names one object in the upload bucket.
type objectRef struct {
	bucket *string
	key    *string
}

func newObjectRef(session *jamf.TransferSession) objectRef {
	return objectRef{
		bucket: aws.String(session.Credentials.BucketName),
		key:    aws.String(session.ObjectKey),
	}
}
