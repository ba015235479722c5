package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObjects struct {
	objects map[string][]byte
	pages   [][]string
	puts    []*s3.PutObjectInput
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		page = 1
	}
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(page+1 < len(f.pages))}
	for _, k := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if *out.IsTruncated {
		out.NextContinuationToken = aws.String("next")
	}
	return out, nil
}

func TestBucketPutAndOpen(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	b := NewBucket(fake, "graphs")
	ctx := context.Background()

	key, err := b.PutJSON(ctx, "snapshots", "s1", []byte(`{"nodes":[]}`))
	if err != nil {
		t.Fatalf("PutJSON: %v", err)
	}
	if key != "snapshots/s1.json" {
		t.Fatalf("key = %q", key)
	}
	if *fake.puts[0].Bucket != "graphs" || *fake.puts[0].ContentType != "application/json" {
		t.Fatalf("put input = %+v", fake.puts[0])
	}

	r, err := b.OpenFile(ctx, key)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != `{"nodes":[]}` {
		t.Fatalf("data = %s", data)
	}

	if _, err := b.OpenFile(ctx, "missing"); err == nil {
		t.Fatal("expected an error for a missing key")
	}
}

func TestListFilesWithPrefixPaginates(t *testing.T) {
	fake := &fakeObjects{pages: [][]string{
		{"datasets/a.ndjson", "datasets/readme.txt"},
		{"datasets/b.ndjson"},
	}}
	b := NewBucket(fake, "graphs")

	keys, err := b.ListFilesWithPrefix(context.Background(), "datasets/", ".ndjson")
	if err != nil {
		t.Fatalf("ListFilesWithPrefix: %v", err)
	}
	want := []string{"datasets/a.ndjson", "datasets/b.ndjson"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
}

func TestSnapshotKeyName(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	if got := SnapshotKeyName(at, "abc"); got != "20260304T040607Z-abc" {
		t.Fatalf("got %q", got)
	}
}
