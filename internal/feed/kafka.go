package feed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaQueueSize = 256

// KafkaPublisher mirrors feed entries to a Kafka topic. Delivery is
// best-effort: entries are dropped when the queue is full and failures are
// logged, never propagated.
type KafkaPublisher struct {
	writer *kafka.Writer
	queue  chan Entry
	stop   chan struct{}
	done   chan struct{}
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:      brokers,
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 200 * time.Millisecond,
			RequiredAcks: int(kafka.RequireOne),
		}),
		queue: make(chan Entry, kafkaQueueSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *KafkaPublisher) Publish(e Entry) {
	select {
	case p.queue <- e:
	default:
		log.Printf("level=WARN event=feed_kafka_dropped reason=%q queue_cap=%d", "queue_full", cap(p.queue))
	}
}

func (p *KafkaPublisher) Close() error {
	close(p.stop)
	<-p.done
	return p.writer.Close()
}

func (p *KafkaPublisher) loop() {
	defer close(p.done)
	for {
		select {
		case e := <-p.queue:
			p.send(e)
		case <-p.stop:
			for {
				select {
				case e := <-p.queue:
					p.send(e)
				default:
					return
				}
			}
		}
	}
}

func (p *KafkaPublisher) send(e Entry) {
	value, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Event),
		Value: value,
	}); err != nil {
		log.Printf("level=WARN event=feed_kafka_write_failed target_event=%q err=%q", e.Event, err.Error())
	}
}
