package uploader

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3manager "github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kibotos/kibotos/internal/config"
	"github.com/kibotos/kibotos/internal/domain"
)

// S3 uploads archives to an S3 bucket under <prefix>/<backup set>/.
type S3 struct {
	domain.ErrorFlag

	client   *s3.Client
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	keep     int
	log      Logger
}

func NewS3(cfg *config.UploaderConfig, keep int, log Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return &S3{
		client:   client,
		uploader: s3manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		keep:     keep,
		log:      log,
	}, nil
}

func (s *S3) Name() string { return "S3" }

func (s *S3) SetupInstructions() string {
	return "Couldn't upload to S3: check the bucket name, region and access keys in the uploaders section"
}

func (s *S3) key(destHint, name string) string {
	return path.Join(s.prefix, destHint, name)
}

func (s *S3) UploadFile(ctx context.Context, localPath string, destHint string) {
	file, err := os.Open(localPath)
	if err != nil {
		s.log.Errorf("Failed to open %q for S3 upload: %v", localPath, err)
		s.SetError()
		return
	}
	defer file.Close()

	key := s.key(destHint, filepath.Base(localPath))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   file,
	})
	if err != nil {
		s.log.Errorf("Failed to upload to S3: %v", err)
		s.SetError()
	}
}

func (s *S3) Test(ctx context.Context, localPath string) {
	file, err := os.Open(localPath)
	if err != nil {
		s.log.Errorf("Failed to open test file: %v", err)
		s.SetError()
		return
	}
	defer file.Close()

	key := s.key("", filepath.Base(localPath))
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   file,
	}); err != nil {
		s.log.Errorf("S3 test upload failed: %v", err)
		s.SetError()
		return
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		s.log.Errorf("S3 test cleanup failed: %v", err)
		s.SetError()
	}
}

// PruneRemote deletes the oldest objects under the backup set's prefix until
// the keep-count remains, ordered by last-modified time.
func (s *S3) PruneRemote(ctx context.Context, destHint string) error {
	if s.keep < 0 {
		return nil
	}

	prefix := s.key(destHint, "") + "/"
	prefix = strings.TrimPrefix(prefix, "/")
	resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	if err != nil {
		return fmt.Errorf("failed to list S3 objects: %w", err)
	}

	objects := resp.Contents
	if len(objects) <= s.keep {
		return nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.Before(*objects[j].LastModified)
	})

	s.log.Infof("There are %d object(s) on S3 which exceeds the limit of %d, deleting oldest",
		len(objects), s.keep)

	for _, obj := range objects[:len(objects)-s.keep] {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    obj.Key,
		}); err != nil {
			return fmt.Errorf("failed to delete %q: %w", *obj.Key, err)
		}
	}
	return nil
}

func (s *S3) Close() error { return nil }
