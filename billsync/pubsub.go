package billsync

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bitbucket.org/mmdatafocus/billsync_backend/config"
	"bitbucket.org/mmdatafocus/billsync_backend/utils"
)

const defaultSyncTopic = "billsync-sync"

func syncTopicName() string {
	if topic := os.Getenv("BILLSYNC_SYNC_TOPIC"); topic != "" {
		return topic
	}
	return defaultSyncTopic
}

type syncRequestMessage struct {
	TriggeredBy string `json:"triggered_by"`
	RequestedAt string `json:"requested_at"`
}

// PublishSyncRequest enqueues a sync trigger for the push subscription.
func PublishSyncRequest(ctx context.Context, triggeredBy string) error {
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, syncTopicName())
	if err != nil {
		return err
	}

	payload, err := json.Marshal(syncRequestMessage{
		TriggeredBy: triggeredBy,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	result := topic.Publish(ctx, &pubsub.Message{Data: payload})
	_, err = result.Get(ctx)
	return err
}

type pushEnvelope struct {
	Message struct {
		Data      []byte `json:"data"`
		MessageId string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PubSubPushHandler receives Cloud Scheduler triggers delivered through a
// pub/sub push subscription and runs an automatic sync. The message is acked
// regardless of outcome; failed runs land in the run log, not the queue.
func PubSubPushHandler() gin.HandlerFunc {
	logger := config.GetLogger()

	return func(c *gin.Context) {
		var envelope pushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			logger.Warnf("dropping malformed pub/sub push: %v", err)
			c.Status(http.StatusNoContent)
			return
		}

		var request syncRequestMessage
		if len(envelope.Message.Data) > 0 {
			if err := json.Unmarshal(envelope.Message.Data, &request); err != nil {
				logger.WithField("messageId", envelope.Message.MessageId).
					Warnf("unreadable sync request payload: %v", err)
			}
		}

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), uuid.NewString())
		triggeredBy := request.TriggeredBy
		if triggeredBy == "" {
			triggeredBy = "pubsub"
		}
		ctx = utils.SetTriggeredByInContext(ctx, triggeredBy)

		logger.WithContext(ctx).WithField("messageId", envelope.Message.MessageId).
			Info("sync trigger received via pub/sub")
		PerformAutomaticSync(ctx)
		c.Status(http.StatusNoContent)
	}
}
