package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	pkgmongo "github.com/biobank/shipment-lifecycle/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const shipmentsCollection = "shipments"

// ShipmentRepository stores shipments in MongoDB. Writes are
// compare-and-set on the version field.
type ShipmentRepository struct {
	collection *mongo.Collection
	obs        *observer
}

// NewShipmentRepository creates the repository and its indexes
func NewShipmentRepository(ctx context.Context, db *mongo.Database, m *metrics.Metrics, logger *logging.Logger) (*ShipmentRepository, error) {
	repo := &ShipmentRepository{
		collection: db.Collection(shipmentsCollection),
		obs:        newObserver(db.Name(), shipmentsCollection, m, logger),
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *ShipmentRepository) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "shipmentId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "courierName", Value: 1}}},
		{Keys: bson.D{{Key: "origin.locationId", Value: 1}}},
		{Keys: bson.D{{Key: "destination.locationId", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create shipment indexes: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) Create(ctx context.Context, shipment *domain.Shipment) error {
	return r.obs.observe(ctx, "insert", func(ctx context.Context) (int64, error) {
		if _, err := r.collection.InsertOne(ctx, shipment); err != nil {
			if pkgmongo.IsDuplicateKey(err) {
				return 0, domain.NewBusinessRuleError(shipment.ShipmentID, "shipment already exists")
			}
			return 0, fmt.Errorf("failed to insert shipment: %w", err)
		}
		return 1, nil
	})
}

func (r *ShipmentRepository) Update(ctx context.Context, shipment *domain.Shipment, expectedVersion int64) error {
	return r.obs.observe(ctx, "update", func(ctx context.Context) (int64, error) {
		shipment.UpdatedAt = time.Now().UTC()

		filter := bson.M{"shipmentId": shipment.ShipmentID, "version": expectedVersion}
		// Replace rather than $set so cleared timestamps are removed.
		result, err := r.collection.ReplaceOne(ctx, filter, shipment)
		if err != nil {
			return 0, fmt.Errorf("failed to update shipment: %w", err)
		}
		if result.MatchedCount == 0 {
			return 0, r.missOrConflict(ctx, shipment.ShipmentID, expectedVersion)
		}
		return result.ModifiedCount, nil
	})
}

func (r *ShipmentRepository) FindByID(ctx context.Context, shipmentID string) (*domain.Shipment, error) {
	var s domain.Shipment
	err := r.obs.observe(ctx, "findOne", func(ctx context.Context) (int64, error) {
		err := r.collection.FindOne(ctx, bson.M{"shipmentId": shipmentID}).Decode(&s)
		if pkgmongo.IsNoDocuments(err) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return 1, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find shipment: %w", err)
	}
	if s.ShipmentID == "" {
		return nil, nil
	}
	return &s, nil
}

func (r *ShipmentRepository) List(ctx context.Context, filter domain.ShipmentFilter, offset, limit int64) ([]*domain.Shipment, int64, error) {
	query := bson.M{}
	if filter.State != "" {
		query["state"] = filter.State
	}
	if filter.CourierName != "" {
		query["courierName"] = filter.CourierName
	}
	if filter.OriginID != "" {
		query["origin.locationId"] = filter.OriginID
	}
	if filter.DestinationID != "" {
		query["destination.locationId"] = filter.DestinationID
	}

	var (
		shipments []*domain.Shipment
		total     int64
	)
	err := r.obs.observe(ctx, "find", func(ctx context.Context) (int64, error) {
		var err error
		total, err = r.collection.CountDocuments(ctx, query)
		if err != nil {
			return 0, err
		}

		opts := options.Find().
			SetSort(bson.D{{Key: "timeAdded", Value: 1}, {Key: "shipmentId", Value: 1}}).
			SetSkip(offset).
			SetLimit(limit)
		cursor, err := r.collection.Find(ctx, query, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)

		if err := cursor.All(ctx, &shipments); err != nil {
			return 0, err
		}
		return int64(len(shipments)), nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list shipments: %w", err)
	}
	return shipments, total, nil
}

func (r *ShipmentRepository) Delete(ctx context.Context, shipmentID string, expectedVersion int64) error {
	return r.obs.observe(ctx, "delete", func(ctx context.Context) (int64, error) {
		result, err := r.collection.DeleteOne(ctx, bson.M{"shipmentId": shipmentID, "version": expectedVersion})
		if err != nil {
			return 0, fmt.Errorf("failed to delete shipment: %w", err)
		}
		if result.DeletedCount == 0 {
			return 0, r.missOrConflict(ctx, shipmentID, expectedVersion)
		}
		return result.DeletedCount, nil
	})
}

// missOrConflict explains why a version-guarded write matched nothing
func (r *ShipmentRepository) missOrConflict(ctx context.Context, shipmentID string, expectedVersion int64) error {
	var current struct {
		Version int64 `bson:"version"`
	}
	opts := options.FindOne().SetProjection(bson.M{"version": 1})
	err := r.collection.FindOne(ctx, bson.M{"shipmentId": shipmentID}, opts).Decode(&current)
	if pkgmongo.IsNoDocuments(err) {
		return domain.NewNotFoundError(shipmentID)
	}
	if err != nil {
		return fmt.Errorf("failed to read shipment version: %w", err)
	}
	return domain.NewVersionConflict(shipmentID, expectedVersion, current.Version)
}
