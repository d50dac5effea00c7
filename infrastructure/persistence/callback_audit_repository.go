package persistence

import (
	"context"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// CallbackAuditRepository appends every provider callback to a Mongo collection.
type CallbackAuditRepository struct {
	mongoDb  *mongo.Client
	database string
}

func NewCallbackAuditRepository(db *mongo.Client, database string) *CallbackAuditRepository {
	if database == "" {
		database = "social_publisher"
	}
	return &CallbackAuditRepository{mongoDb: db, database: database}
}

var _ repository.ICallbackAudit = (*CallbackAuditRepository)(nil)

func (r *CallbackAuditRepository) Record(ctx context.Context, cb *model.ProviderCallback, outcome string) error {
	if r.mongoDb == nil {
		logger.GetLogger().Debug("MongoDB client is nil - skipping callback audit")
		return nil
	}
	doc := bson.D{
		{Key: "platform", Value: cb.Platform},
		{Key: "account_uid", Value: cb.AccountUID},
		{Key: "provider_content_id", Value: cb.ProviderContentID},
		{Key: "success", Value: cb.Success},
		{Key: "work_link", Value: cb.WorkLink},
		{Key: "error_message", Value: cb.ErrorMessage},
		{Key: "raw", Value: string(cb.Raw)},
		{Key: "outcome", Value: outcome},
		{Key: "received_at", Value: cb.ReceivedAt},
		{Key: "recorded_at", Value: time.Now().UTC()},
	}
	collection := r.mongoDb.Database(r.database).Collection("provider_callbacks")
	if _, err := collection.InsertOne(ctx, doc); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while recording provider callback")
		return err
	}
	return nil
}
