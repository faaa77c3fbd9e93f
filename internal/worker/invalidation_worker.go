package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"catalog-rag/internal/cache"
	"catalog-rag/internal/model"
)

var errBadPayload = errors.New("bad document event payload")

// Invalidator is the cache administration surface the worker drives.
type Invalidator interface {
	InvalidateByDocument(ctx context.Context, documentID string) (int64, error)
	InvalidateByCatalog(ctx context.Context, catalogID string) (int64, error)
	InvalidateByUser(ctx context.Context, userID string) (int64, error)
	ClearAll(ctx context.Context) (cache.ClearResult, error)
}

// InvalidationWorker consumes document events from the ingestion pipeline and
// drops the cached answers they make stale.
type InvalidationWorker struct {
	conn      *amqp.Connection
	cache     Invalidator
	queueName string
	log       logrus.FieldLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewInvalidationWorker(conn *amqp.Connection, c Invalidator, queueName string, log logrus.FieldLogger) *InvalidationWorker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &InvalidationWorker{
		conn:      conn,
		cache:     c,
		queueName: queueName,
		log:       log.WithField("worker", "invalidation"),
	}
}

func (w *InvalidationWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.process(workerCtx, d)
			}
		}
	}()

	w.log.WithField("queue", w.queueName).Info("invalidation worker started")
	return nil
}

// process acks handled events and nacks the rest. Bad payloads are dropped; a
// failed invalidation is requeued once and dropped on redelivery.
func (w *InvalidationWorker) process(ctx context.Context, d amqp.Delivery) {
	err := w.handle(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	requeue := !errors.Is(err, errBadPayload) && !d.Redelivered
	w.log.WithError(err).WithField("requeue", requeue).Error("handle document event failed")
	_ = d.Nack(false, requeue)
}

func (w *InvalidationWorker) handle(ctx context.Context, body []byte) error {
	var event model.DocumentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}

	var (
		n   int64
		err error
	)
	switch event.Type {
	case model.EventDocumentDeleting, model.EventDocumentReindexing:
		if event.DocumentID == "" {
			return fmt.Errorf("%w: %s without document_id", errBadPayload, event.Type)
		}
		n, err = w.cache.InvalidateByDocument(ctx, event.DocumentID)
	case model.EventCatalogChanged:
		if event.CatalogID == "" {
			return fmt.Errorf("%w: %s without catalog_id", errBadPayload, event.Type)
		}
		n, err = w.cache.InvalidateByCatalog(ctx, event.CatalogID)
	case model.EventUserPurged:
		if event.UserID == "" {
			return fmt.Errorf("%w: %s without user_id", errBadPayload, event.Type)
		}
		n, err = w.cache.InvalidateByUser(ctx, event.UserID)
	case model.EventIndexRebuilt:
		var res cache.ClearResult
		res, err = w.cache.ClearAll(ctx)
		n = res.Queries
	default:
		return fmt.Errorf("%w: unknown type %q", errBadPayload, event.Type)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", event.Type, err)
	}

	w.log.WithFields(logrus.Fields{
		"event":       event.Type,
		"document_id": event.DocumentID,
		"catalog_id":  event.CatalogID,
		"user_id":     event.UserID,
		"deleted":     n,
	}).Info("document event applied")
	return nil
}

func (w *InvalidationWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
