package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/RecoveryAshes/wxgather/internal/core"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Uploader_Upload(t *testing.T) {
	var (
		mu      sync.Mutex
		putPath string
		putBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			putPath = r.URL.Path
			putBody = string(body)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}, nil
		}),
	})
	up := NewS3UploaderWithClient(client, "qr-bucket", "/login/")

	link, err := up.Upload(context.Background(), []byte("png-bytes"))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(putPath, "/qr-bucket/login/qr-"), putPath)
	assert.True(t, strings.HasSuffix(putPath, ".png"))
	assert.Contains(t, putBody, "png-bytes")

	assert.True(t, strings.HasPrefix(link, srv.URL+"/qr-bucket/login/qr-"), link)
	assert.Contains(t, link, "X-Amz-Expires=120")
	assert.Contains(t, link, "X-Amz-Signature=")
}

type fakeStatusWriter struct {
	mu        sync.Mutex
	hashes    map[string]map[string]interface{}
	published []string
	err       error
}

func (f *fakeStatusWriter) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes == nil {
		f.hashes = make(map[string]map[string]interface{})
	}
	if len(values) == 1 {
		if m, ok := values[0].(map[string]interface{}); ok {
			f.hashes[key] = m
		}
	}
	return redis.NewIntResult(int64(len(values)), f.err)
}

func (f *fakeStatusWriter) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := message.([]byte); ok {
		f.published = append(f.published, string(b))
	}
	return redis.NewIntResult(1, f.err)
}

func TestRedisObserver_OnStateChange(t *testing.T) {
	w := &fakeStatusWriter{}
	obs := NewRedisObserver(w, "wx:login", "wx:login:events", func() string { return "sid-1" })

	obs.OnStateChange(models.StateQRReady, "https://qr.example.com/1.png", "", 2)

	fields := w.hashes["wx:login"]
	require.NotNil(t, fields)
	assert.Equal(t, "qr_ready", fields["status"])
	assert.Equal(t, "https://qr.example.com/1.png", fields["qr_signed_url"])
	assert.Equal(t, 2, fields["expires_minutes"])
	assert.Equal(t, "sid-1", fields["session_id"])

	require.Len(t, w.published, 1)
	var ev StateEvent
	require.NoError(t, json.Unmarshal([]byte(w.published[0]), &ev))
	assert.Equal(t, models.StateQRReady, ev.Status)
	assert.Equal(t, "sid-1", ev.SessionID)

	t.Run("无频道只写哈希", func(t *testing.T) {
		w := &fakeStatusWriter{}
		NewRedisObserver(w, "k", "", nil).OnStateChange(models.StateFailed, "", "boom", 0)
		assert.Equal(t, "boom", w.hashes["k"]["error"])
		assert.Empty(t, w.published)
	})

	t.Run("写入失败不panic", func(t *testing.T) {
		w := &fakeStatusWriter{err: errors.New("connection refused")}
		assert.NotPanics(t, func() {
			NewRedisObserver(w, "k", "c", nil).OnStateChange(models.StateSuccess, "", "", 0)
		})
	})
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev GatherEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.MpID != "MP_WXS_1" || ev.Count != 2 || ev.Event != "gather_finished" {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	pub := NewKafkaPublisherWithProducer(producer, "wx.gather")
	articles := []models.Article{{ID: "a1"}, {ID: "a2"}}
	require.NoError(t, pub.PublishGatherFinished("MP_WXS_1", articles))

	err := pub.PublishGatherFinished("MP_WXS_1", nil)
	assert.ErrorContains(t, err, "broker down")

	require.NoError(t, pub.Close())
}

func TestBuildBindings_Defaults(t *testing.T) {
	b := BuildBindings(context.Background(), core.HooksConfig{}, t.TempDir(), nil)
	defer b.Close()

	_, ok := b.Uploader.(*LocalUploader)
	assert.True(t, ok)
	assert.Nil(t, b.Observer)
	assert.Nil(t, b.Publisher)
}
