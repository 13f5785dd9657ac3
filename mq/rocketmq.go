package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// 主题常量
const (
	TopicPollEvents = "poll_events"
)

var (
	rocketProducer rocketmq.Producer
	rocketConsumer rocketmq.PushConsumer

	// 幂等性处理：记录已处理过的消息ID
	processedEvents      = make(map[string]bool)
	processedEventsMutex sync.RWMutex
)

// isEventProcessed 检查事件是否已处理过
func isEventProcessed(messageID string) bool {
	processedEventsMutex.RLock()
	defer processedEventsMutex.RUnlock()
	return processedEvents[messageID]
}

// markEventProcessed 标记事件为已处理，24小时后过期
func markEventProcessed(messageID string) {
	processedEventsMutex.Lock()
	processedEvents[messageID] = true
	processedEventsMutex.Unlock()

	go func(id string) {
		time.Sleep(24 * time.Hour)
		processedEventsMutex.Lock()
		delete(processedEvents, id)
		processedEventsMutex.Unlock()
	}(messageID)
}

// initRocketProducer 初始化RocketMQ生产者。
// 只有在ROCKETMQ_NAMESRV_ADDR显式配置时才会被适配器调用
func initRocketProducer() error {
	nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
	if nameServerAddr == "" {
		return fmt.Errorf("未配置ROCKETMQ_NAMESRV_ADDR")
	}

	log.Printf("初始化RocketMQ连接, 地址: %s", nameServerAddr)

	p, err := rocketmq.NewProducer(
		producer.WithNameServer([]string{nameServerAddr}),
		producer.WithGroupName("poll_event_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return fmt.Errorf("创建RocketMQ生产者失败: %v", err)
	}

	if err := p.Start(); err != nil {
		return fmt.Errorf("启动RocketMQ生产者失败: %v", err)
	}

	rocketProducer = p
	log.Println("RocketMQ生产者初始化成功")
	return nil
}

// sendRocketEvent 发送事件到RocketMQ。
// 使用投票ID作为分区键，保证同一投票的事件顺序
func sendRocketEvent(event PollEvent) error {
	if rocketProducer == nil {
		return fmt.Errorf("RocketMQ生产者未初始化")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %v", err)
	}

	message := primitive.NewMessage(TopicPollEvents, body)
	message.WithTag(event.Kind)
	message.WithKeys([]string{event.MessageID})
	message.WithShardingKey(event.PollID)

	res, err := rocketProducer.SendSync(context.Background(), message)
	if err != nil {
		return fmt.Errorf("发送事件失败: %v", err)
	}

	log.Printf("事件发送成功, MsgID: %s, MessageID: %s, 队列: %s",
		res.MsgID, event.MessageID, res.MessageQueue.String())
	return nil
}

// startRocketConsumer 启动RocketMQ事件消费者
func startRocketConsumer(handler EventHandler) error {
	nameServerAddr := os.Getenv("ROCKETMQ_NAMESRV_ADDR")
	if nameServerAddr == "" {
		return fmt.Errorf("未配置ROCKETMQ_NAMESRV_ADDR")
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer([]string{nameServerAddr}),
		consumer.WithGroupName("poll_event_consumer"),
		consumer.WithConsumerModel(consumer.Clustering),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		consumer.WithConsumerOrder(true),
	)
	if err != nil {
		return fmt.Errorf("创建事件消费者失败: %v", err)
	}

	err = c.Subscribe(TopicPollEvents, consumer.MessageSelector{},
		func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
			for _, msg := range msgs {
				var event PollEvent
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					log.Printf("解析事件失败: %v", err)
					continue
				}

				if isEventProcessed(event.MessageID) {
					log.Printf("事件已处理过，跳过: %s", event.MessageID)
					continue
				}

				log.Printf("收到投票事件: Poll=%s, Kind=%s, MessageID=%s",
					event.PollID, event.Kind, event.MessageID)

				if err := handler(event.PollID, event.Kind); err != nil {
					log.Printf("处理事件失败: %v", err)
					// 顺序消费时失败会阻塞同一队列的后续事件
					return consumer.ConsumeRetryLater, nil
				}

				markEventProcessed(event.MessageID)
			}
			return consumer.ConsumeSuccess, nil
		})
	if err != nil {
		return fmt.Errorf("订阅主题失败: %v", err)
	}

	if err := c.Start(); err != nil {
		return fmt.Errorf("启动事件消费者失败: %v", err)
	}

	rocketConsumer = c
	log.Println("RocketMQ事件消费者启动成功")
	return nil
}

// closeRocket 关闭RocketMQ连接
func closeRocket() {
	if rocketConsumer != nil {
		if err := rocketConsumer.Shutdown(); err != nil {
			log.Printf("关闭RocketMQ消费者失败: %v", err)
		}
	}
	if rocketProducer != nil {
		if err := rocketProducer.Shutdown(); err != nil {
			log.Printf("关闭RocketMQ生产者失败: %v", err)
		} else {
			log.Println("RocketMQ生产者已关闭")
		}
	}
}
