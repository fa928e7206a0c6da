package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/RecoveryAshes/wxgather/internal/utils"
)

// GatherEvent 单个公众号采集完成事件
type GatherEvent struct {
	Event      string   `json:"event"`
	MpID       string   `json:"mp_id"`
	Count      int      `json:"count"`
	ArticleIDs []string `json:"article_ids"`
	FinishedAt int64    `json:"finished_at"`
}

// Publisher 采集完成通知
type Publisher interface {
	PublishGatherFinished(mpID string, articles []models.Article) error
	Close() error
}

// KafkaPublisher 通过Kafka发送采集完成事件
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher 连接broker并创建同步生产者
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, topic), nil
}

// NewKafkaPublisherWithProducer 使用已有生产者
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// PublishGatherFinished 以mp_id为key发送事件
func (p *KafkaPublisher) PublishGatherFinished(mpID string, articles []models.Article) error {
	ev := GatherEvent{
		Event:      "gather_finished",
		MpID:       mpID,
		Count:      len(articles),
		ArticleIDs: make([]string, 0, len(articles)),
		FinishedAt: time.Now().Unix(),
	}
	for _, a := range articles {
		ev.ArticleIDs = append(ev.ArticleIDs, a.ID)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(mpID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("发送采集事件失败: %w", err)
	}
	utils.Debugf("采集事件已发送: topic=%s partition=%d offset=%d", p.topic, partition, offset)
	return nil
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
