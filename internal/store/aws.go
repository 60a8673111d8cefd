package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

type s3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Store struct {
	Client s3API
	Bucket string
}

func NewS3Store(i *do.Injector) (*S3Store, error) {
	return &S3Store{
		Client: do.MustInvoke[*s3.Client](i),
		Bucket: do.MustInvokeNamed[string](i, "bucket"),
	}, nil
}

// Upload tiers generated images, which are written once and rarely read
// after the first week; everything else stays in the standard class.
func (u *S3Store) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).With(
		"name", params.Name,
		"content-type", params.ContentType,
		"cache-control", params.CacheControl,
		"metadata", params.Metadata,
		"bucket", u.Bucket,
	)
	log.Info("uploading to s3")

	input := &s3.PutObjectInput{
		Bucket:       aws.String(u.Bucket),
		Key:          aws.String(params.Name),
		ContentType:  aws.String(params.ContentType),
		Body:         bytes.NewReader(params.Data),
		Metadata:     params.Metadata,
		StorageClass: s3types.StorageClassStandard,
	}
	if strings.HasPrefix(params.ContentType, "image/") {
		input.StorageClass = s3types.StorageClassIntelligentTiering
	}
	if params.CacheControl != "" {
		input.CacheControl = aws.String(params.CacheControl)
	}
	_, err := u.Client.PutObject(ctx, input)
	return err
}

func (u *S3Store) List(ctx context.Context, suffix string) ([]Object, error) {
	log := log.FromContextOrDiscard(ctx).With("bucket", u.Bucket, "suffix", suffix)
	log.Info("listing s3 objects")

	var keys []s3types.Object
	pager := s3.NewListObjectsV2Paginator(u.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.Bucket),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		keys = append(keys, lo.Filter(page.Contents, func(o s3types.Object, _ int) bool {
			return strings.HasSuffix(aws.ToString(o.Key), suffix)
		})...)
	}

	objs := make([]Object, len(keys))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for idx, obj := range keys {
		idx, obj := idx, obj
		group.Go(func() error {
			out, err := u.Client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(u.Bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return err
			}
			objs[idx] = Object{
				Key:          aws.ToString(obj.Key),
				LastModified: aws.ToTime(obj.LastModified),
				Metadata:     out.Metadata,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	sortNewestFirst(objs)
	return objs, nil
}

type cloudFrontAPI interface {
	CreateInvalidation(context.Context, *cloudfront.CreateInvalidationInput, ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

type CloudFrontInvalidator struct {
	Client       cloudFrontAPI
	Distribution string
}

func NewInvalidator(i *do.Injector) (Invalidator, error) {
	distribution := do.MustInvokeNamed[string](i, "distribution")
	if distribution == "" {
		return NopInvalidator{}, nil
	}
	return &CloudFrontInvalidator{
		Client:       do.MustInvoke[*cloudfront.Client](i),
		Distribution: distribution,
	}, nil
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	paths = lo.Uniq(lo.Compact(paths))
	if len(paths) == 0 {
		return nil
	}

	ref := "sdturbo-gallery-" + uuid.NewString()
	log := log.FromContextOrDiscard(ctx).With("paths", paths, "distribution", i.Distribution, "reference", ref)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(ref),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("invalidating %v: %w", paths, err)
	}
	return nil
}
