// Package storage は添付ファイルをS3互換オブジェクトストレージに保存する。
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config はオブジェクトストレージの接続設定。
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	BasePath  string
	UseTLS    bool
}

// MinioStorage はminio-goを使ったBlobStorageの実装。
type MinioStorage struct {
	client   *minio.Client
	bucket   string
	basePath string
}

// NewMinioStorage はMinioStorageを生成する。接続は最初の操作まで確立しない。
func NewMinioStorage(cfg Config) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("storage endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &MinioStorage{
		client:   client,
		bucket:   cfg.Bucket,
		basePath: strings.Trim(cfg.BasePath, "/"),
	}, nil
}

// EnsureBucket はバケットが存在しなければ作成する。
func (m *MinioStorage) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
	}
	return nil
}

// Upload はオブジェクトを保存する。sizeが負の場合はストリームの終端まで読み込む。
func (m *MinioStorage) Upload(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, fullPath(m.basePath, objectName), r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// Download はオブジェクトを読み出す。呼び出し元はReadCloserを閉じる必要がある。
func (m *MinioStorage) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	name := fullPath(m.basePath, objectName)
	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	// GetObjectは遅延取得のため、存在確認をここで行う
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, fmt.Errorf("failed to stat object %s: %w", name, err)
	}
	return obj, nil
}

// Delete はオブジェクトを削除する。存在しない場合もエラーにしない。
func (m *MinioStorage) Delete(ctx context.Context, objectName string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, fullPath(m.basePath, objectName), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove object: %w", err)
	}
	return nil
}

func fullPath(basePath, objectName string) string {
	objectName = strings.TrimLeft(objectName, "/")
	if basePath == "" {
		return objectName
	}
	return path.Join(basePath, objectName)
}
