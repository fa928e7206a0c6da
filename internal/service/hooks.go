package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/core"
	"github.com/RecoveryAshes/wxgather/internal/driver"
	"github.com/RecoveryAshes/wxgather/internal/gather"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
	"github.com/redis/go-redis/v9"
)

// GatherHooks 采集钩子的默认绑定
func (s *Service) GatherHooks() gather.Hooks {
	return gather.HookFuncs{
		UpdateFeed: func(mpID string, meta gather.FeedMeta) {
			utils.Debugf("开始同步公众号 %s sync_time=%d", mpID, meta.SyncTime)
		},
		Over: func(articles []models.Article, mpID string) {
			utils.Infof("公众号 %s 采集完成, 共 %d 篇", mpID, len(articles))
			if s.publisher == nil {
				return
			}
			if err := s.publisher.PublishGatherFinished(mpID, articles); err != nil {
				utils.Warnf("发送采集完成事件失败: %v", err)
			}
		},
		SessionInvalid: func(msg string, code models.ErrorCode, ctx map[string]string) {
			s.onSessionInvalid(msg)
		},
	}
}

// onSessionInvalid 清除会话、清空队列并提醒重新登录
func (s *Service) onSessionInvalid(msg string) {
	utils.Warnf("公众号会话失效: %s", msg)
	s.ClearSession(MsgSessionInvalid)
	if s.queue != nil {
		s.queue.ClearQueue()
	}
	s.notify(MsgSessionInvalid)
}

// Bindings 按配置创建的外部钩子
type Bindings struct {
	Uploader  driver.QrUploader
	Observer  driver.StateObserver
	Publisher Publisher

	closers []func() error
}

// Close 释放外部连接
func (b *Bindings) Close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			utils.Warnf("关闭钩子连接失败: %v", err)
		}
	}
}

// BuildBindings 根据hooks配置创建上传器、观察者与事件发布器
// 未配置的项使用本地实现或留空,连接失败只记录警告
func BuildBindings(ctx context.Context, cfg core.HooksConfig, cacheDir string, sessionID func() string) *Bindings {
	b := &Bindings{Uploader: NewLocalUploader(cacheDir)}

	if cfg.S3.Bucket != "" {
		up, err := NewS3Uploader(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
		if err != nil {
			utils.Warnf("S3上传不可用, 使用本地文件: %v", err)
		} else {
			b.Uploader = up
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			utils.Warnf("Redis不可用, 跳过状态同步: %v", err)
			client.Close()
		} else {
			b.Observer = NewRedisObserver(client, cfg.Redis.Key, cfg.Redis.Channel, sessionID)
			b.closers = append(b.closers, client.Close)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		pub, err := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			utils.Warnf("Kafka不可用, 跳过采集事件: %v", err)
		} else {
			b.Publisher = pub
			b.closers = append(b.closers, pub.Close)
		}
	}
	return b
}

// Gather 采集单个公众号
func (s *Service) Gather(ctx context.Context, mode models.GatherMode, req gather.Request) ([]models.Article, error) {
	engine := gather.NewEngine(s.gatherCfg, s.CookieSource(), gather.WithHooks(s.GatherHooks()))
	strategy, err := gather.New(mode, engine, s.fetcher)
	if err != nil {
		return nil, err
	}

	articles, err := strategy.GetArticles(ctx, req)
	if err != nil {
		return articles, ToWxError(err, "gather")
	}
	return articles, nil
}

// EnqueueGather 把采集任务放入队列
func (s *Service) EnqueueGather(mode models.GatherMode, req gather.Request) (*models.GatherTask, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("任务队列未初始化")
	}
	name := fmt.Sprintf("gather:%s", strings.TrimSpace(req.MpTitle+" "+req.MpID))
	return s.queue.AddTask(name, func(ctx context.Context) error {
		_, err := s.Gather(ctx, mode, req)
		return err
	})
}

// SearchBiz 搜索公众号
func (s *Service) SearchBiz(ctx context.Context, keyword string, limit, offset int) models.Envelope {
	engine := gather.NewEngine(s.gatherCfg, s.CookieSource(), gather.WithHooks(s.GatherHooks()))
	res, err := engine.SearchBiz(ctx, keyword, limit, offset)
	if err != nil {
		return MapError(err, "search", s.state())
	}
	return models.Ok(res, string(s.state()))
}
