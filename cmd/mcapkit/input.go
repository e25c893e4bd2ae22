package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arloliu/mcapkit/bytesource"
	s3source "github.com/arloliu/mcapkit/bytesource/s3"
	"github.com/arloliu/mcapkit/container"
)

// open opens a local path or an s3://bucket/key URL.
func (a *app) open(ctx context.Context, input string) (*container.Container, error) {
	opts := []container.Option{
		container.WithStrict(a.cfg.Reader.Strict),
		container.WithLogger(a.logger),
	}
	window := bytesource.WithWindowSize(a.cfg.Reader.WindowSize)

	if !s3source.IsURL(input) {
		return container.OpenFile(input, append(opts, container.WithSourceOptions(window))...)
	}

	bucket, key, err := s3source.ParseURL(input)
	if err != nil {
		return nil, err
	}
	client, err := a.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	src, err := s3source.Open(ctx, client, bucket, key, window)
	if err != nil {
		return nil, err
	}

	c, err := container.Open(src, opts...)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("open %s: %w", input, err)
	}

	return c, nil
}

func (a *app) s3Client(ctx context.Context) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if a.cfg.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(a.cfg.S3.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	endpoint := a.cfg.S3.Endpoint

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// S3-compatible stores are addressed by path.
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// create opens the output file; commit closes it, removing it when err is set.
func create(path string) (*os.File, func(err error) error, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}

	return f, func(err error) error {
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
		}

		return err
	}, nil
}
