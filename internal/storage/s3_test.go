package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	objects map[string][]byte
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, *in.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

type archivedRun struct {
	RunID      string  `json:"run_id"`
	Modularity float64 `json:"modularity"`
}

func TestRunArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	objects := &fakeObjects{objects: map[string][]byte{}}
	archive := NewRunArchive(objects, "bucket")

	if err := archive.ArchiveRun(ctx, "communities", "r1", archivedRun{RunID: "r1", Modularity: 0.4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := objects.objects["runs/communities/r1.json"]; !ok {
		t.Fatalf("expected object under runs/communities/r1.json, got %v", objects.objects)
	}

	var got archivedRun
	if err := archive.LoadRun(ctx, "communities", "r1", &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RunID != "r1" || got.Modularity != 0.4 {
		t.Fatalf("expected archived run back, got %+v", got)
	}

	ids, err := archive.ListRuns(ctx, "communities")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Fatalf("expected [r1], got %v", ids)
	}
}

func TestRunArchiveErrors(t *testing.T) {
	ctx := context.Background()
	archive := NewRunArchive(&fakeObjects{objects: map[string][]byte{}}, "bucket")

	var out archivedRun
	if err := archive.LoadRun(ctx, "communities", "missing", &out); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived, got %v", err)
	}
	if err := archive.ArchiveRun(ctx, "communities", "../x", out); err == nil {
		t.Fatal("expected invalid key to be rejected")
	}
}
