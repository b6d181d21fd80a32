// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps each session's record as an object in a Cloud Storage bucket.
type GCSStore struct {
	storageClient *storage.Client
	BucketName    string
	Prefix        string
}

// NewGCSStore creates a store writing to gs://bucketName/prefix.
//
// # Inputs
//
//   - bucketName: Target bucket.
//   - prefix: Object name prefix, may be empty.
//   - saKeyPath: Service account key file. Empty uses application default
//     credentials.
func NewGCSStore(ctx context.Context, bucketName, prefix, saKeyPath string) (*GCSStore, error) {
	var opts []option.ClientOption
	if saKeyPath != "" {
		if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
		}
		opts = append(opts, option.WithCredentialsFile(saKeyPath))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSStore{
		storageClient: storageClient,
		BucketName:    bucketName,
		Prefix:        prefix,
	}, nil
}

// parseGCSLocation splits gs://bucket/some/prefix into bucket and prefix.
func parseGCSLocation(location string) (string, string, error) {
	rest := strings.TrimPrefix(location, gcsScheme)
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs location %q has no bucket", location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// ObjectName returns the object backing sessionName.
func (s *GCSStore) ObjectName(sessionName string) string {
	return objectName(s.Prefix, sessionName)
}

func objectName(prefix, sessionName string) string {
	if prefix == "" {
		return recordName(sessionName)
	}
	return path.Join(prefix, recordName(sessionName))
}

// Load implements Store.
func (s *GCSStore) Load(ctx context.Context, sessionName string) ([]byte, error) {
	name := s.ObjectName(sessionName)
	reader, err := s.storageClient.Bucket(s.BucketName).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS object gs://%s/%s: %w", s.BucketName, name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object gs://%s/%s: %w", s.BucketName, name, err)
	}
	return data, nil
}

// Save implements Store. Object writes are atomic on Close.
func (s *GCSStore) Save(ctx context.Context, sessionName string, data []byte) error {
	name := s.ObjectName(sessionName)
	writer := s.storageClient.Bucket(s.BucketName).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write GCS object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.storageClient.Close()
}

func (s *GCSStore) String() string {
	if s.Prefix == "" {
		return gcsScheme + s.BucketName
	}
	return gcsScheme + s.BucketName + "/" + s.Prefix
}
