package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/sdturbo/internal/client"
	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/diffusion"
	"github.com/dmorgan81/sdturbo/internal/feed"
	"github.com/dmorgan81/sdturbo/internal/gallery"
	"github.com/dmorgan81/sdturbo/internal/handler"
	"github.com/dmorgan81/sdturbo/internal/keepwarm"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/page"
	"github.com/dmorgan81/sdturbo/internal/param"
	"github.com/dmorgan81/sdturbo/internal/prompt"
	"github.com/dmorgan81/sdturbo/internal/service"
	"github.com/dmorgan81/sdturbo/internal/store"
	"github.com/dmorgan81/sdturbo/internal/weights"
	"github.com/samber/do"
)

// Setup registers every component lazily; each binary invokes only what it
// needs, so AWS clients are never built for a process that does not use them.
func Setup(ctx context.Context, cfg *config.Config) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.ProvideValue(injector, cfg)
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.ProvideNamed[string](injector, "api_key", func(i *do.Injector) (string, error) {
		if cfg.APIKeyParam == "" {
			return cfg.APIKey, nil
		}
		fetcher, err := do.Invoke[param.Fetcher](i)
		if err != nil {
			return "", err
		}
		return fetcher.Fetch(ctx, cfg.APIKeyParam)
	})
	do.ProvideNamed[[]string](injector, "prompts", func(i *do.Injector) ([]string, error) {
		if cfg.PromptsParam == "" {
			return cfg.WarmPrompts, nil
		}
		fetcher, err := do.Invoke[param.Fetcher](i)
		if err != nil {
			return nil, err
		}
		return fetcher.FetchAll(ctx, cfg.PromptsParam)
	})
	do.ProvideNamedValue[string](injector, "inference_url", cfg.InferenceURL)
	do.ProvideNamedValue[string](injector, "inference_load_url", cfg.InferenceLoadURL)
	do.ProvideNamedValue[string](injector, "inference_key", cfg.InferenceKey)
	do.ProvideNamedValue[string](injector, "bucket", cfg.Bucket)
	do.ProvideNamedValue[string](injector, "distribution", cfg.Distribution)
	do.ProvideNamedValue[string](injector, "public_url", cfg.PublicURL)

	do.Provide[*weights.Provisioner](injector, weights.NewProvisioner)
	do.Provide[diffusion.Pipeline](injector, diffusion.NewRemotePipeline)
	do.Provide[*diffusion.Model](injector, diffusion.NewModel)
	do.Provide[*service.Service](injector, service.NewService)

	do.Provide[*client.Client](injector, client.NewClient)
	do.Provide[*prompt.Randomizer](injector, prompt.NewRandomizer)
	do.Provide[*keepwarm.Keeper](injector, keepwarm.NewKeeper)
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	provideStore(injector, cfg)
	do.Provide[store.Invalidator](injector, store.NewInvalidator)
	do.Provide[*page.Templator](injector, page.NewTemplator)
	do.Provide[*feed.Generator](injector, feed.NewGenerator)
	do.Provide[*gallery.Gallery](injector, gallery.NewGallery)

	return injector
}

// provideStore backs the gallery with S3 when a bucket is configured and with
// a local directory otherwise.
func provideStore(injector *do.Injector, cfg *config.Config) {
	if cfg.Bucket == "" {
		fs := &store.FileStore{Dir: cfg.StoreDir}
		do.ProvideValue[store.Uploader](injector, fs)
		do.ProvideValue[store.Lister](injector, fs)
		return
	}
	do.Provide[*store.S3Store](injector, store.NewS3Store)
	do.Provide[store.Uploader](injector, func(i *do.Injector) (store.Uploader, error) {
		return do.MustInvoke[*store.S3Store](i), nil
	})
	do.Provide[store.Lister](injector, func(i *do.Injector) (store.Lister, error) {
		return do.MustInvoke[*store.S3Store](i), nil
	})
}
