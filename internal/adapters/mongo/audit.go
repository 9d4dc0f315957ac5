package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/domain"
	"github.com/robertarktes/booking-checkout/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID         string    `bson:"_id"`
	Action     string    `bson:"action"`
	UserID     string    `bson:"user_id,omitempty"`
	GuestToken string    `bson:"guest_token,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
	Data       bson.M    `bson:"data"`
}

func newAuditLog(action string, owner domain.Owner, data map[string]interface{}, now time.Time) AuditLog {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Timestamp: now.UTC(),
		Data:      bson.M(data),
	}
	if owner.IsGuest() {
		log.GuestToken = owner.GuestToken
	} else {
		log.UserID = owner.UserID.String()
	}
	return log
}

// Record appends one checkout event to the audit trail.
func (a *AuditLogger) Record(ctx context.Context, action string, owner domain.Owner, data map[string]interface{}) error {
	_, err := a.coll.InsertOne(ctx, newAuditLog(action, owner, data, time.Now()))
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}
