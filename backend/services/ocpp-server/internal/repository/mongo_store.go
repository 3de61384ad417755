package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"evcharge/backend/services/ocpp-server/internal/models"
)

const (
	collectionChargePoints = "chargePoints"
	collectionConnectors   = "connectors"
	collectionTransactions = "ocppTransactions"
	collectionMeterValues  = "ocppMeterValues"
	collectionLogs         = "ocppLogs"
	collectionOrders       = "orders"
)

// logDocument keeps the raw frame as text so it stays readable in the collection.
type logDocument struct {
	ChargePointID string    `bson:"chargePointId"`
	Direction     string    `bson:"direction"`
	MessageType   int       `bson:"messageType"`
	MessageID     string    `bson:"messageId"`
	Action        string    `bson:"action"`
	Payload       string    `bson:"payload"`
	Timestamp     time.Time `bson:"timestamp"`
}

// MongoStore implements Store on MongoDB. idTag authorization is answered from
// paid orders written by the order process.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore returns store.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// mongoIndexes lists the index for each collection. The unique transactionId
// index keeps transaction ids from being reused.
func mongoIndexes() map[string]mongo.IndexModel {
	return map[string]mongo.IndexModel{
		collectionChargePoints: {Keys: bson.D{{Key: "chargePointId", Value: 1}}, Options: options.Index().SetUnique(true)},
		collectionConnectors:   {Keys: bson.D{{Key: "chargePointId", Value: 1}, {Key: "connectorId", Value: 1}}, Options: options.Index().SetUnique(true)},
		collectionTransactions: {Keys: bson.D{{Key: "transactionId", Value: 1}}, Options: options.Index().SetUnique(true)},
		collectionMeterValues:  {Keys: bson.D{{Key: "transactionId", Value: 1}}},
		collectionLogs:         {Keys: bson.D{{Key: "chargePointId", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
}

// EnsureIndexes creates the lookup indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for name, model := range mongoIndexes() {
		if _, err := s.db.Collection(name).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("repository: index %s: %w", name, err)
		}
	}
	return nil
}

func (s *MongoStore) IsKnownChargePoint(ctx context.Context, id string) (bool, error) {
	count, err := s.db.Collection(collectionChargePoints).CountDocuments(ctx,
		bson.D{{Key: "chargePointId", Value: id}, {Key: "active", Value: true}},
		options.Count().SetLimit(1),
	)
	return count > 0, err
}

func (s *MongoStore) GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error) {
	var cp models.ChargePoint
	err := s.db.Collection(collectionChargePoints).FindOne(ctx, bson.D{{Key: "chargePointId", Value: id}}).Decode(&cp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

func (s *MongoStore) UpsertChargePoint(ctx context.Context, cp *models.ChargePoint) error {
	now := time.Now().UTC()
	set := bson.M{
		"vendor":          cp.Vendor,
		"model":           cp.Model,
		"serialNumber":    cp.SerialNumber,
		"firmwareVersion": cp.FirmwareVersion,
		"status":          cp.Status,
		"lastHeartbeat":   cp.LastHeartbeat,
		"lastBoot":        cp.LastBoot,
		"updatedAt":       now,
	}
	if cp.ConnectorCount > 0 {
		set["numberOfConnectors"] = cp.ConnectorCount
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"active": true, "registeredAt": now},
	}
	_, err := s.db.Collection(collectionChargePoints).UpdateOne(ctx,
		bson.D{{Key: "chargePointId", Value: cp.ID}},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) UpdateChargePointStatus(ctx context.Context, id, status string, at time.Time) error {
	return s.updateChargePoint(ctx, id, bson.M{"status": status, "updatedAt": at})
}

func (s *MongoStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	return s.updateChargePoint(ctx, id, bson.M{"lastHeartbeat": at, "updatedAt": at})
}

func (s *MongoStore) updateChargePoint(ctx context.Context, id string, set bson.M) error {
	res, err := s.db.Collection(collectionChargePoints).UpdateOne(ctx, bson.D{{Key: "chargePointId", Value: id}}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func connectorFilter(chargePointID string, connectorID int) bson.D {
	return bson.D{{Key: "chargePointId", Value: chargePointID}, {Key: "connectorId", Value: connectorID}}
}

func (s *MongoStore) GetConnector(ctx context.Context, chargePointID string, connectorID int) (*models.Connector, error) {
	var c models.Connector
	err := s.db.Collection(collectionConnectors).FindOne(ctx, connectorFilter(chargePointID, connectorID)).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ListConnectors(ctx context.Context, chargePointID string) ([]models.Connector, error) {
	cursor, err := s.db.Collection(collectionConnectors).Find(ctx,
		bson.D{{Key: "chargePointId", Value: chargePointID}},
		options.Find().SetSort(bson.D{{Key: "connectorId", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []models.Connector
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SetConnectorStatus(ctx context.Context, chargePointID string, connectorID int, status, errorCode string, at time.Time) error {
	_, err := s.db.Collection(collectionConnectors).UpdateOne(ctx,
		connectorFilter(chargePointID, connectorID),
		bson.M{"$set": bson.M{"status": status, "errorCode": errorCode, "lastStatusUpdate": at}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) SetConnectorTransaction(ctx context.Context, chargePointID string, connectorID int, transactionID *int64) error {
	update := bson.M{
		"$set":         bson.M{"currentTransaction": transactionID, "lastStatusUpdate": time.Now().UTC()},
		"$setOnInsert": bson.M{"status": "Unavailable", "errorCode": "NoError"},
	}
	_, err := s.db.Collection(collectionConnectors).UpdateOne(ctx,
		connectorFilter(chargePointID, connectorID),
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *MongoStore) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	_, err := s.db.Collection(collectionTransactions).InsertOne(ctx, tx)
	return err
}

func (s *MongoStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.Collection(collectionTransactions).FindOne(ctx, bson.D{{Key: "transactionId", Value: id}}).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) CloseTransaction(ctx context.Context, id, meterStop int64, stopTime time.Time, reason string) (*models.Transaction, error) {
	set := bson.M{
		"meterStop":     meterStop,
		"stopTimestamp": stopTime,
		"status":        models.TransactionCompleted,
	}
	if reason != "" {
		set["stopReason"] = reason
	}
	var tx models.Transaction
	err := s.db.Collection(collectionTransactions).FindOneAndUpdate(ctx,
		bson.D{{Key: "transactionId", Value: id}, {Key: "status", Value: models.TransactionActive}},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&tx)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *MongoStore) ListActiveTransactions(ctx context.Context) ([]models.Transaction, error) {
	cursor, err := s.db.Collection(collectionTransactions).Find(ctx,
		bson.D{{Key: "status", Value: models.TransactionActive}},
		options.Find().SetSort(bson.D{{Key: "transactionId", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var out []models.Transaction
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) MaxTransactionID(ctx context.Context) (int64, error) {
	var last models.Transaction
	err := s.db.Collection(collectionTransactions).FindOne(ctx,
		bson.D{},
		options.FindOne().SetSort(bson.D{{Key: "transactionId", Value: -1}}),
	).Decode(&last)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return last.ID, nil
}

func (s *MongoStore) AppendMeterSample(ctx context.Context, sample *models.MeterSample) error {
	_, err := s.db.Collection(collectionMeterValues).InsertOne(ctx, sample)
	return err
}

// IsAuthorized accepts an idTag that matches a paid order by phone, email or order id.
func (s *MongoStore) IsAuthorized(ctx context.Context, idTag string) (bool, error) {
	match := bson.A{
		bson.D{{Key: "phone", Value: idTag}},
		bson.D{{Key: "email", Value: idTag}},
	}
	if oid, err := primitive.ObjectIDFromHex(idTag); err == nil {
		match = append(match, bson.D{{Key: "_id", Value: oid}})
	}
	filter := bson.D{
		{Key: "$or", Value: match},
		{Key: "paid", Value: true},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{"paid", "charging"}}}},
	}
	count, err := s.db.Collection(collectionOrders).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	return count > 0, err
}

func (s *MongoStore) AppendLog(ctx context.Context, entry models.LogEntry) error {
	_, err := s.db.Collection(collectionLogs).InsertOne(ctx, logDocument{
		ChargePointID: entry.ChargePointID,
		Direction:     entry.Direction,
		MessageType:   entry.MessageType,
		MessageID:     entry.MessageID,
		Action:        entry.Action,
		Payload:       string(entry.Payload),
		Timestamp:     entry.Timestamp,
	})
	return err
}
