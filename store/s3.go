package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stevemurr/cosmoscope/errs"
)

// S3API is the subset of the S3 client used by S3Sessions.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds construction parameters for S3Sessions. Credentials fall
// back to the default AWS chain when the static keys are empty.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// S3Sessions stores snapshots as objects under a key prefix. A PutObject is
// atomic from the reader's point of view.
type S3Sessions struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Sessions(ctx context.Context, cfg S3Config) (*S3Sessions, error) {
	if cfg.Bucket == "" {
		return nil, errs.Invalid("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.IO(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SessionsWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3SessionsWithClient wraps an existing client.
func NewS3SessionsWithClient(client S3API, bucket, prefix string) *S3Sessions {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Sessions{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Sessions) Driver() string { return DriverS3 }

func (s *S3Sessions) Location(name string) string {
	f, err := fileName(name)
	if err != nil {
		f = name
	}
	return "s3://" + s.bucket + "/" + s.prefix + f
}

func (s *S3Sessions) key(name string) (string, string, error) {
	f, err := fileName(name)
	if err != nil {
		return "", "", err
	}
	return f, s.prefix + f, nil
}

func (s *S3Sessions) Write(ctx context.Context, name string, data []byte) error {
	f, key, err := s.key(name)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	return errs.IO(err, "write %s", f)
}

func (s *S3Sessions) Read(ctx context.Context, name string) ([]byte, error) {
	f, key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isNotFound(err) {
			return nil, errs.NotFound("no stored session %s", s.Location(f))
		}
		return nil, errs.IO(err, "read %s", f)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.IO(err, "read %s", f)
	}
	return data, nil
}

func (s *S3Sessions) Latest(ctx context.Context) (SessionInfo, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return SessionInfo{}, err
	}
	return latest(infos)
}

func (s *S3Sessions) List(ctx context.Context) ([]SessionInfo, error) {
	var (
		infos []SessionInfo
		token *string
	)
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &s.prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errs.IO(err, "list %s", s.Location(""))
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, Extension) {
				continue
			}
			infos = append(infos, SessionInfo{
				Name:       name,
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sortInfos(infos)
	return infos, nil
}

// Delete heads the object first since S3 deletes succeed for absent keys.
func (s *S3Sessions) Delete(ctx context.Context, name string) (bool, error) {
	f, key, err := s.key(name)
	if err != nil {
		return false, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, errs.IO(err, "delete %s", f)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, errs.IO(err, "delete %s", f)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
