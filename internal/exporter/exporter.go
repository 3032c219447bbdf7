// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package exporter snapshots the evidence database to a local file or an
// S3-compatible object store, tagged with a UUID manifest (spec
// supplement: evidence export/backup, an enrichment of C8 — spec.md's
// Non-goals don't mention backup).
package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Manifest describes one snapshot export.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	DBFile    string    `json:"db_file"`
	SizeBytes int64     `json:"size_bytes"`
}

// Target abstracts where a snapshot's bytes land.
type Target interface {
	WriteFile(ctx context.Context, name string, data []byte) error
}

// FileTarget writes snapshots to a local filesystem directory.
type FileTarget struct {
	Dir string
}

// NewFileTarget returns a FileTarget writing under dir, creating it if
// necessary.
func NewFileTarget(dir string) (*FileTarget, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("exporter: create target directory: %w", err)
	}
	return &FileTarget{Dir: dir}, nil
}

// WriteFile writes data to name under the target directory.
func (ft *FileTarget) WriteFile(_ context.Context, name string, data []byte) error {
	return os.WriteFile(filepath.Join(ft.Dir, name), data, 0o640)
}

// S3TargetConfig configures an S3-compatible export target.
type S3TargetConfig struct {
	Endpoint     string
	Bucket       string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// S3Target writes snapshots to an S3-compatible object store.
type S3Target struct {
	client *s3.Client
	bucket string
}

// NewS3Target builds an S3Target from cfg.
func NewS3Target(ctx context.Context, cfg S3TargetConfig) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("exporter: S3 target: empty bucket name")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("exporter: S3 target: load AWS config: %w", err)
	}

	opts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}

	return &S3Target{client: s3.NewFromConfig(awsCfg, opts), bucket: cfg.Bucket}, nil
}

// WriteFile uploads data as key name into the configured bucket.
func (st *S3Target) WriteFile(ctx context.Context, name string, data []byte) error {
	_, err := st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(st.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return fmt.Errorf("exporter: S3 target: put object %q: %w", name, err)
	}
	return nil
}

// Snapshot reads dbPath (the evidence database file on disk) and writes
// its current bytes plus a UUID-tagged manifest to target. Callers are
// responsible for checkpointing the WAL first (see internal/maintenance)
// so the snapshot reflects committed data.
func Snapshot(ctx context.Context, target Target, dbPath string) (Manifest, error) {
	data, err := os.ReadFile(dbPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("exporter: read %s: %w", dbPath, err)
	}

	m := Manifest{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		DBFile:    filepath.Base(dbPath) + ".snapshot",
		SizeBytes: int64(len(data)),
	}

	if err := target.WriteFile(ctx, m.DBFile, data); err != nil {
		return Manifest{}, err
	}

	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("exporter: marshal manifest: %w", err)
	}
	if err := target.WriteFile(ctx, m.ID+".manifest.json", manifestJSON); err != nil {
		return Manifest{}, err
	}

	return m, nil
}
