// Package archive implements the optional cold-storage tier: once the
// uploader has successfully delivered and deleted a local evidence pair, it
// may also bundle and ship the same pair to S3 for durable retention
// independent of the backend's own storage.
//
// The bundling pipeline (tar -> gzip -> destination) follows the usual
// tar-over-gzip streaming idiom, swapping compress/gzip for
// klauspost/pgzip's parallel implementation since archival runs off the hot
// path and can trade CPU for wall-clock.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/pgzip"
)

// Archiver uploads bundled evidence pairs to an S3 bucket. The tier is
// optional: callers (cmd/radar-uploader) only construct one when
// --s3-bucket is set and otherwise pass a nil pipeline.Archiver, which the
// uploader actor checks before calling ArchivePair at all.
type Archiver struct {
	client *s3.Client
	bucket string
}

// New builds an S3-backed Archiver. accessKey/secretKey may be empty to use
// the default AWS credential chain; otherwise a static credentials provider
// is used, matching how a single-tenant field deployment is typically
// configured (one bucket, one long-lived key pair).
func New(ctx context.Context, bucket, region, accessKey, secretKey string) (*Archiver, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(region))
	if accessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Archiver{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// Bundle tars and pgzips a single evidence pair (jpeg + json), reading both
// from disk, into a self-contained buffer keyed by the pair's timestamp
// stem. Exercised directly by tests; the wired uploader path uses
// BundleBytes instead, since by the time it archives the files may already
// be gone (see BundleBytes).
func Bundle(jpegPath, jsonPath string) (*bytes.Buffer, error) {
	jpegData, err := os.ReadFile(jpegPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s for archive: %w", jpegPath, err)
	}
	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s for archive: %w", jsonPath, err)
	}
	return BundleBytes(jpegPath, jpegData, jsonPath, jsonData)
}

// BundleBytes tars and pgzips an evidence pair already held in memory,
// named by the basename of jpegPath/jsonPath inside the archive. The
// uploader calls this with the bytes it already read for the primary
// upload, so archival never depends on the local files still existing.
func BundleBytes(jpegPath string, jpegData []byte, jsonPath string, jsonData []byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer

	gz, err := pgzip.NewWriterLevel(&buf, pgzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("creating pgzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	entries := []struct {
		name string
		data []byte
	}{
		{filepath.Base(jpegPath), jpegData},
		{filepath.Base(jsonPath), jsonData},
	}
	for _, e := range entries {
		if err := addFile(tw, e.name, e.data); err != nil {
			tw.Close()
			gz.Close()
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		gz.Close()
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing pgzip writer: %w", err)
	}

	return &buf, nil
}

func addFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing %s into tar: %w", name, err)
	}
	return nil
}

// Upload puts a bundled evidence pair at key in the archiver's bucket.
func (a *Archiver) Upload(ctx context.Context, key string, bundle *bytes.Buffer) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(bundle.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("uploading %s to s3://%s: %w", key, a.bucket, err)
	}
	return nil
}

// ArchivePair bundles and uploads one evidence pair, keyed by its JSON
// basename with a .tar.gz extension. jpegData/jsonData are the bytes the
// uploader already read off disk before deleting the local pair — by the
// time archival runs the files are typically already gone, so this must
// never re-read jpegPath/jsonPath itself. Callers treat this as
// best-effort: failure here must never block or retry the primary upload
// path.
func (a *Archiver) ArchivePair(ctx context.Context, jpegPath string, jpegData []byte, jsonPath string, jsonData []byte) error {
	bundle, err := BundleBytes(jpegPath, jpegData, jsonPath, jsonData)
	if err != nil {
		return err
	}

	stem := filepath.Base(jsonPath)
	stem = stem[:len(stem)-len(filepath.Ext(stem))]
	key := stem + ".tar.gz"

	return a.Upload(ctx, key, bundle)
}
