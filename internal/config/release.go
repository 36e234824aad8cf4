package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/go-github/v59/github"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2"
)

// ReleaseConfig holds everything the release commands read from the
// environment. Most values are provided by the CI runner.
type ReleaseConfig struct {
	GitHubToken      string `envconfig:"GITHUB_TOKEN"`
	GitHubRepository string `envconfig:"GITHUB_REPOSITORY"`
	GitHubRef        string `envconfig:"GITHUB_REF"`
	GitHubSHA        string `envconfig:"GITHUB_SHA"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	SourceDateEpoch  int64  `envconfig:"SOURCE_DATE_EPOCH"`

	SigningKey        string `envconfig:"RELEASE_SIGNING_KEY"`
	SigningPassphrase string `envconfig:"RELEASE_SIGNING_PASSPHRASE"`

	MirrorBucket          string `envconfig:"RELEASE_MIRROR_BUCKET"`
	MirrorEndpoint        string `envconfig:"RELEASE_MIRROR_ENDPOINT"`
	MirrorRegion          string `envconfig:"RELEASE_MIRROR_REGION" default:"auto"`
	MirrorAccessKeyID     string `envconfig:"RELEASE_MIRROR_ACCESS_KEY_ID"`
	MirrorSecretAccessKey string `envconfig:"RELEASE_MIRROR_SECRET_ACCESS_KEY"`
	MirrorPrefix          string `envconfig:"RELEASE_MIRROR_PREFIX" default:"releases"`
	MirrorUsePathStyle    bool   `envconfig:"RELEASE_MIRROR_USE_PATH_STYLE"`

	IndexProjectID string `envconfig:"RELEASE_INDEX_PROJECT_ID"`
	Stage          string `envconfig:"STAGE" default:"dev"`

	RegistryURL   string `envconfig:"RELEASE_REGISTRY_URL"`
	RegistryToken string `envconfig:"RELEASE_REGISTRY_TOKEN"`
}

func NewReleaseConfigFromEnv() (*ReleaseConfig, error) {
	var rCfg ReleaseConfig
	err := envconfig.Process("", &rCfg)
	if err != nil {
		return nil, err
	}
	return &rCfg, nil
}

// OwnerRepo splits GITHUB_REPOSITORY into owner and repository name.
func (r *ReleaseConfig) OwnerRepo() (string, string, error) {
	owner, repo, found := strings.Cut(r.GitHubRepository, "/")
	if !found || owner == "" || repo == "" {
		return "", "", fmt.Errorf("invalid GITHUB_REPOSITORY %q (expected owner/repo)", r.GitHubRepository)
	}
	return owner, repo, nil
}

func (r *ReleaseConfig) CreateGitHubClient() (*github.Client, error) {
	if r.GitHubToken == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN is missing")
	}
	oauthClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: r.GitHubToken}))
	return github.NewClient(oauthClient), nil
}

func (r *ReleaseConfig) MirrorEnabled() bool {
	return r.MirrorBucket != ""
}

func (r *ReleaseConfig) IndexEnabled() bool {
	return r.IndexProjectID != ""
}

func (r *ReleaseConfig) SigningEnabled() bool {
	return r.SigningKey != ""
}

func (r *ReleaseConfig) mirrorEndpointResolver(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
	if r.MirrorEndpoint == "" {
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	}
	return aws.Endpoint{
		URL:               r.MirrorEndpoint,
		HostnameImmutable: r.MirrorUsePathStyle,
	}, nil
}

func (r *ReleaseConfig) CreateS3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(r.MirrorRegion),
		awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(r.mirrorEndpointResolver)),
	}
	if r.MirrorAccessKeyID != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			r.MirrorAccessKeyID,
			r.MirrorSecretAccessKey,
			"",
		)))
	}
	s3Cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(s3Cfg, func(o *s3.Options) {
		o.UsePathStyle = r.MirrorUsePathStyle
	}), nil
}
