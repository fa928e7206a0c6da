package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// QRLinkTTL 二维码链接有效期,与二维码本身的过期时间一致
const QRLinkTTL = 2 * time.Minute

// S3Uploader 上传二维码到S3并返回预签名下载链接
type S3Uploader struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	ttl     time.Duration
}

// NewS3Uploader 使用默认凭证链创建
func NewS3Uploader(ctx context.Context, bucket, prefix, region string) (*S3Uploader, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载AWS配置失败: %w", err)
	}
	return NewS3UploaderWithClient(s3.NewFromConfig(awsCfg), bucket, prefix), nil
}

// NewS3UploaderWithClient 使用已有客户端创建
func NewS3UploaderWithClient(client *s3.Client, bucket, prefix string) *S3Uploader {
	return &S3Uploader{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		ttl:     QRLinkTTL,
	}
}

// Upload 实现driver.QrUploader
func (u *S3Uploader) Upload(ctx context.Context, png []byte) (string, error) {
	key := fmt.Sprintf("qr-%d.png", utils.NowMillis())
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(png),
		ContentType:  aws.String("image/png"),
		CacheControl: aws.String("no-store"),
	})
	if err != nil {
		return "", fmt.Errorf("上传二维码失败: %w", err)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.ttl))
	if err != nil {
		return "", fmt.Errorf("生成二维码链接失败: %w", err)
	}
	utils.Debugf("二维码已上传: s3://%s/%s", u.bucket, key)
	return req.URL, nil
}

// LocalUploader 把二维码写到本地文件,返回 file:// 链接
type LocalUploader struct {
	dir string
}

// NewLocalUploader 创建本地上传器
func NewLocalUploader(dir string) *LocalUploader {
	return &LocalUploader{dir: dir}
}

// Upload 实现driver.QrUploader,始终覆盖同一个文件
func (u *LocalUploader) Upload(_ context.Context, png []byte) (string, error) {
	if err := utils.EnsureDir(u.dir); err != nil {
		return "", err
	}
	path := filepath.Join(u.dir, "login-qr.png")
	if err := os.WriteFile(path, png, 0644); err != nil {
		return "", fmt.Errorf("写入二维码失败: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + filepath.ToSlash(abs), nil
}
