package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/OFFIS-RIT/kinship/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// S3ConfigFromEnv reads AWS_REGION, AWS_ENDPOINT, AWS_ACCESS_KEY,
// AWS_SECRET_KEY and AWS_BUCKET.
func S3ConfigFromEnv() S3Config {
	return S3Config{
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
		Bucket:    util.GetEnv("AWS_BUCKET"),
	}
}

func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(c.Endpoint))
	}
	if c.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKey,
			c.SecretKey,
			"",
		)))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

// ObjectAPI is the part of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// RunArchive stores finished runs as JSON objects under
// runs/<kind>/<run_id>.json.
type RunArchive struct {
	client ObjectAPI
	bucket string
}

func NewRunArchive(client ObjectAPI, bucket string) *RunArchive {
	return &RunArchive{client: client, bucket: bucket}
}

func RunKey(kind, runID string) string {
	return path.Join("runs", kind, runID+".json")
}

func (a *RunArchive) ArchiveRun(ctx context.Context, kind, runID string, run any) error {
	if kind == "" || runID == "" || strings.ContainsAny(kind+runID, "/\\") {
		return fmt.Errorf("invalid archive key %q/%q", kind, runID)
	}
	body, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(RunKey(kind, runID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload run to S3: %w", err)
	}
	return nil
}

// LoadRun decodes an archived run into out. It returns ErrNotArchived when
// the object does not exist.
func (a *RunArchive) LoadRun(ctx context.Context, kind, runID string, out any) error {
	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(RunKey(kind, runID)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return ErrNotArchived
		}
		return fmt.Errorf("failed to get run from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read run contents: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode run: %w", err)
	}
	return nil
}

var ErrNotArchived = errors.New("run not archived")

// ListRuns returns the run ids archived for kind.
func (a *RunArchive) ListRuns(ctx context.Context, kind string) ([]string, error) {
	prefix := path.Join("runs", kind) + "/"
	var ids []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := a.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			if id, ok := strings.CutSuffix(name, ".json"); ok && !strings.Contains(id, "/") {
				ids = append(ids, id)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return ids, nil
}
