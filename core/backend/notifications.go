package backend

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/qvarn/core"
	"github.com/relabs-tech/qvarn/core/logger"
)

// Notification is the message published to the resource notification topic.
// It mirrors the notification documents served on the listener routes, plus
// the resource type. Receive them with a kafka consumer on ResourceNotificationTopic.
type Notification struct {
	Type             string  `json:"type"`
	ID               string  `json:"id"`
	Revision         string  `json:"revision"`
	ResourceType     string  `json:"resource_type"`
	ResourceID       string  `json:"resource_id"`
	ResourceRevision *string `json:"resource_revision"`
	ResourceChange   string  `json:"resource_change"`
}

// ResourceNotificationTopic is the kafka topic for resource notifications.
const ResourceNotificationTopic = "resource_notification"

// DefaultOutboxTableName is used when the builder does not name the outbox
// table.
const DefaultOutboxTableName = "_resource_notification_outbox_"

const outboxMaxAttempts = 3
const outboxPollInterval = 30 * time.Second

// handleOutbox creates the outbox table and prepares the claim queries.
// Messages are written to the outbox inside the mutation's transaction and
// shipped to kafka afterwards, so a notification is published if and only
// if the mutation committed.
func (b *Backend) handleOutbox() {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS ` + b.db.Schema + `."` + b.outboxTable + `"
(serial SERIAL,
change_id VARCHAR(46) NOT NULL,
resource_type VARCHAR NOT NULL,
change_type VARCHAR NOT NULL,
resource_id VARCHAR(46) NOT NULL,
payload JSON NOT NULL,
request_context JSON NOT NULL,
created_at TIMESTAMP NOT NULL,
attempts_left INTEGER NOT NULL,
PRIMARY KEY(serial)
);`)
	if err != nil {
		panic(err)
	}

	// Claiming an entry decrements attempts_left, so a delivery that
	// crashes mid-flight is retried at most outboxMaxAttempts times.
	// SKIP LOCKED arbitrates between concurrently pumping instances.
	b.outboxUpdateQuery = `UPDATE ` + b.db.Schema + `."` + b.outboxTable + `"
SET attempts_left = attempts_left - 1
WHERE serial = (
SELECT serial
 FROM ` + b.db.Schema + `."` + b.outboxTable + `"
 WHERE attempts_left > 0
 ORDER BY serial
 FOR UPDATE SKIP LOCKED
 LIMIT 1
)
RETURNING *;
`
	b.outboxDeleteQuery = `DELETE FROM ` + b.db.Schema + `."` + b.outboxTable + `"
WHERE serial = $1 RETURNING serial;`
}

// insertOutboxEntry writes one outbox entry within the mutation's
// transaction. The entry carries the request's logger context, so the
// notification can be traced back to the request that caused it. Without
// kafka brokers there is no outbox.
func (b *Backend) insertOutboxEntry(ctx context.Context, tx *sql.Tx, rt *resourceType, changeID string, operation core.Operation, id string, resourceRevision interface{}) error {
	if b.kafkaWriter == nil {
		return nil
	}
	var revision *string
	if s, ok := resourceRevision.(string); ok {
		revision = &s
	}
	payload, err := json.Marshal(Notification{
		Type:             "notification",
		ID:               changeID,
		Revision:         changeID,
		ResourceType:     rt.name,
		ResourceID:       id,
		ResourceRevision: revision,
		ResourceChange:   operation.ChangeType(),
	})
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO `+b.db.Schema+`."`+b.outboxTable+`"`+
		`(change_id,resource_type,change_type,resource_id,payload,request_context,created_at,attempts_left)`+
		`VALUES($1,$2,$3,$4,$5,$6,$7,$8);`,
		changeID,
		rt.name,
		operation.ChangeType(),
		id,
		payload,
		logger.SerializeLoggerContext(ctx),
		time.Now().UTC(),
		outboxMaxAttempts,
	)
	return err
}

// triggerNotification pokes the outbox pump. Never blocks, a pending poke
// is enough.
func (b *Backend) triggerNotification() {
	if b.outboxTrigger == nil {
		return
	}
	select {
	case b.outboxTrigger <- true:
	default:
	}
}

func (b *Backend) outboxPump() {
	defer b.pumpDone.Done()
	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closed:
			return
		case <-b.outboxTrigger:
		case <-ticker.C:
		}
		b.processOutbox()
	}
}

// processOutbox ships pending outbox entries to kafka, oldest first. One
// entry is in flight at a time, so per-resource ordering survives as long
// as a single instance pumps.
func (b *Backend) processOutbox() {
	nillog := logger.FromContext(nil)
	for {
		tx, err := b.db.BeginTx(context.Background(), nil)
		if err != nil {
			nillog.WithError(err).Errorln("Error 4644: cannot begin outbox transaction")
			return
		}

		var serial, attemptsLeft int
		var changeID, resourceType, changeType, resourceID string
		var payload, requestContext []byte
		var createdAt time.Time
		err = tx.QueryRow(b.outboxUpdateQuery).Scan(
			&serial,
			&changeID,
			&resourceType,
			&changeType,
			&resourceID,
			&payload,
			&requestContext,
			&createdAt,
			&attemptsLeft,
		)
		if err != nil {
			if err != sql.ErrNoRows {
				nillog.WithError(err).Errorln("Error 4645: cannot claim outbox entry")
			}
			tx.Rollback()
			return
		}

		// revive the logger context of the originating request, so the
		// publish shows up in the logs with the request's id
		ctx := logger.ContextWithLoggerFromData(context.Background(), requestContext)
		rlog := logger.FromContext(ctx)

		message := kafka.Message{
			Key:   []byte(resourceID),
			Value: payload,
		}
		if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
			message.Headers = append(message.Headers, kafka.Header{
				Key:   "request_id",
				Value: []byte(requestID),
			})
		}
		err = b.kafkaWriter.WriteMessages(ctx, message)
		if err != nil {
			// keep the claim's attempt bookkeeping, the entry is retried
			// until its attempts are exhausted
			rlog.WithError(err).Errorln("Error 4646: cannot publish notification", changeID)
			tx.Commit()
			return
		}
		err = tx.QueryRow(b.outboxDeleteQuery, serial).Scan(&serial)
		if err == nil {
			err = tx.Commit()
		}
		if err != nil {
			rlog.WithError(err).Errorln("Error 4647: cannot complete outbox entry", changeID)
			tx.Rollback()
			return
		}
		rlog.Debugln("published notification", changeID, "for", resourceType, resourceID)
	}
}
