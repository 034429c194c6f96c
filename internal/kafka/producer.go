package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-gatepass/internal/models"
)

type Producer struct {
	Writer        *kafka.Writer
	ScannedTopic  string
	ImportedTopic string
}

func NewProducer(brokers []string, scannedTopic, importedTopic string) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{
		Writer:        writer,
		ScannedTopic:  scannedTopic,
		ImportedTopic: importedTopic,
	}
}

// Publish writes one message to a topic, keyed so that all events of one
// ticket land on the same partition in order.
func (p *Producer) Publish(topic, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

type ticketScannedEvent struct {
	TicketNumber string    `json:"ticket_number"`
	EventID      string    `json:"event_id,omitempty"`
	Action       string    `json:"action"`
	NewStatus    string    `json:"new_status"`
	OperatorID   string    `json:"operator_id,omitempty"`
	ScannedAt    time.Time `json:"scanned_at"`
}

// PublishTicketScanned streams an applied transition to Kafka.
func (p *Producer) PublishTicketScanned(rec models.ScanHistory, newStatus string) error {
	event := ticketScannedEvent{
		TicketNumber: rec.TicketNumber,
		EventID:      rec.EventID,
		Action:       rec.Action,
		NewStatus:    newStatus,
		OperatorID:   rec.OperatorID,
		ScannedAt:    time.Now(),
	}
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(p.ScannedTopic, rec.TicketNumber, msgBytes)
}

type ticketsImportedEvent struct {
	EventID    string `json:"event_id"`
	Imported   int    `json:"imported"`
	Duplicates int    `json:"duplicates"`
}

// PublishTicketsImported streams an import summary to Kafka.
func (p *Producer) PublishTicketsImported(eventID string, imported, duplicates int) error {
	msgBytes, err := json.Marshal(ticketsImportedEvent{
		EventID:    eventID,
		Imported:   imported,
		Duplicates: duplicates,
	})
	if err != nil {
		return err
	}
	return p.Publish(p.ImportedTopic, eventID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
