// Package releases retrieves Juju GUI release archives from an S3-compatible
// object store. Archives are laid out by series:
//
//	releases/stable/juju-gui-1.0.1.tgz
//	releases/trunk/juju-gui-1.0.1+build.2.tgz
package releases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Options configures access to the release store.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Release describes one release archive in the store.
type Release struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store reads release archives from an S3-compatible bucket.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a release store client. Returns nil when endpoint or bucket are
// not configured, so a missing store degrades to an explicit fetch error
// rather than a construction failure.
func New(opts Options) *Store {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}
	creds := credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")
	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws.NewCredentialsCache(creds),
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})
	return &Store{client: client, bucket: opts.Bucket}
}

// KeyFor returns the object key for a release archive.
func KeyFor(series, version string) string {
	return path.Join("releases", series, "juju-gui-"+version+".tgz")
}

// Find returns the release for the given series and version. With an empty
// version the most recent release of the series is returned.
func (s *Store) Find(ctx context.Context, series, version string) (Release, error) {
	prefix := path.Join("releases", series) + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return Release{}, fmt.Errorf("list %s releases: %w", series, err)
	}
	available := make([]Release, 0, len(out.Contents))
	for _, obj := range out.Contents {
		release := Release{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
		if obj.LastModified != nil {
			release.LastModified = *obj.LastModified
		}
		available = append(available, release)
	}
	return Pick(available, series, version)
}

// Pick selects a release from the available archives. Only .tgz archives are
// considered. With a version, the exact archive is required; otherwise the
// most recently modified archive wins.
func Pick(available []Release, series, version string) (Release, error) {
	archives := available[:0:0]
	for _, release := range available {
		if strings.HasSuffix(release.Key, ".tgz") {
			archives = append(archives, release)
		}
	}
	if len(archives) == 0 {
		return Release{}, fmt.Errorf("%q: series does not contain releases", series)
	}
	if version != "" {
		want := KeyFor(series, version)
		for _, release := range archives {
			if release.Key == want {
				return release, nil
			}
		}
		return Release{}, fmt.Errorf("%q: release not found", version)
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].LastModified.After(archives[j].LastModified)
	})
	return archives[0], nil
}

// Download fetches the object at key into dest.
func (s *Store) Download(ctx context.Context, key, dest string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return fmt.Errorf("release %s not found in store", key)
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.ReadFrom(out.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}
