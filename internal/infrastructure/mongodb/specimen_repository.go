package mongodb

import (
	"context"
	"fmt"

	"github.com/biobank/shipment-lifecycle/internal/domain"
	"github.com/biobank/shipment-lifecycle/pkg/logging"
	"github.com/biobank/shipment-lifecycle/pkg/metrics"
	pkgmongo "github.com/biobank/shipment-lifecycle/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const specimensCollection = "shipment_specimens"

// ShipmentSpecimenRepository stores shipment specimens in MongoDB
type ShipmentSpecimenRepository struct {
	collection *mongo.Collection
	obs        *observer
}

// NewShipmentSpecimenRepository creates the repository and its indexes
func NewShipmentSpecimenRepository(ctx context.Context, db *mongo.Database, m *metrics.Metrics, logger *logging.Logger) (*ShipmentSpecimenRepository, error) {
	repo := &ShipmentSpecimenRepository{
		collection: db.Collection(specimensCollection),
		obs:        newObserver(db.Name(), specimensCollection, m, logger),
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "shipmentSpecimenId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "shipmentId", Value: 1}, {Key: "state", Value: 1}}},
		{Keys: bson.D{{Key: "specimenId", Value: 1}}},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create shipment specimen indexes: %w", err)
	}
	return repo, nil
}

func (r *ShipmentSpecimenRepository) AddAll(ctx context.Context, items []*domain.ShipmentSpecimen) error {
	if len(items) == 0 {
		return nil
	}

	docs := make([]interface{}, len(items))
	for i, item := range items {
		docs[i] = item
	}

	return r.obs.observe(ctx, "insertMany", func(ctx context.Context) (int64, error) {
		result, err := r.collection.InsertMany(ctx, docs)
		if err != nil {
			if pkgmongo.IsDuplicateKey(err) {
				return 0, domain.NewBusinessRuleError(items[0].ShipmentID, "shipment specimen already exists")
			}
			return 0, fmt.Errorf("failed to insert shipment specimens: %w", err)
		}
		return int64(len(result.InsertedIDs)), nil
	})
}

func (r *ShipmentSpecimenRepository) find(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*domain.ShipmentSpecimen, error) {
	var items []*domain.ShipmentSpecimen
	err := r.obs.observe(ctx, "find", func(ctx context.Context) (int64, error) {
		cursor, err := r.collection.Find(ctx, query, opts)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)
		if err := cursor.All(ctx, &items); err != nil {
			return 0, err
		}
		return int64(len(items)), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find shipment specimens: %w", err)
	}
	return items, nil
}

func sortByAdded() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "timeAdded", Value: 1}, {Key: "shipmentSpecimenId", Value: 1}})
}

func (r *ShipmentSpecimenRepository) FindByShipment(ctx context.Context, shipmentID string, state domain.ItemState, offset, limit int64) ([]*domain.ShipmentSpecimen, int64, error) {
	query := bson.M{"shipmentId": shipmentID}
	if state != "" {
		query["state"] = state
	}

	total, err := r.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count shipment specimens: %w", err)
	}

	opts := sortByAdded().SetSkip(offset)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	items, err := r.find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *ShipmentSpecimenRepository) FindByIDs(ctx context.Context, shipmentID string, ids []string) ([]*domain.ShipmentSpecimen, error) {
	return r.find(ctx, bson.M{
		"shipmentId":         shipmentID,
		"shipmentSpecimenId": bson.M{"$in": ids},
	}, sortByAdded())
}

func (r *ShipmentSpecimenRepository) FindBySpecimenIDs(ctx context.Context, specimenIDs []string) ([]*domain.ShipmentSpecimen, error) {
	return r.find(ctx, bson.M{"specimenId": bson.M{"$in": specimenIDs}}, sortByAdded())
}

func (r *ShipmentSpecimenRepository) CountByState(ctx context.Context, shipmentID string) (domain.PresenceCounts, error) {
	var counts domain.PresenceCounts
	err := r.obs.observe(ctx, "aggregate", func(ctx context.Context) (int64, error) {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: bson.M{"shipmentId": shipmentID}}},
			{{Key: "$group", Value: bson.M{"_id": "$state", "count": bson.M{"$sum": 1}}}},
		}
		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			return 0, err
		}
		defer cursor.Close(ctx)

		var rows []struct {
			State domain.ItemState `bson:"_id"`
			Count int              `bson:"count"`
		}
		if err := cursor.All(ctx, &rows); err != nil {
			return 0, err
		}
		for _, row := range rows {
			counts.Add(row.State, row.Count)
		}
		return int64(len(rows)), nil
	})
	if err != nil {
		return domain.PresenceCounts{}, fmt.Errorf("failed to count shipment specimens: %w", err)
	}
	return counts, nil
}

func (r *ShipmentSpecimenRepository) UpdateAll(ctx context.Context, items []*domain.ShipmentSpecimen) error {
	if len(items) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(items))
	for i, item := range items {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"shipmentSpecimenId": item.ShipmentSpecimenID}).
			SetReplacement(item)
	}

	return r.obs.observe(ctx, "bulkWrite", func(ctx context.Context) (int64, error) {
		result, err := r.collection.BulkWrite(ctx, models)
		if err != nil {
			return 0, fmt.Errorf("failed to update shipment specimens: %w", err)
		}
		if result.MatchedCount != int64(len(items)) {
			return result.ModifiedCount, domain.NewBusinessRuleError(items[0].ShipmentID, "one or more shipment specimens no longer exist")
		}
		return result.ModifiedCount, nil
	})
}

func (r *ShipmentSpecimenRepository) Delete(ctx context.Context, shipmentID, shipmentSpecimenID string) error {
	return r.obs.observe(ctx, "delete", func(ctx context.Context) (int64, error) {
		result, err := r.collection.DeleteOne(ctx, bson.M{"shipmentId": shipmentID, "shipmentSpecimenId": shipmentSpecimenID})
		if err != nil {
			return 0, fmt.Errorf("failed to delete shipment specimen: %w", err)
		}
		if result.DeletedCount == 0 {
			return 0, domain.NewBusinessRuleError(shipmentID, "shipment specimen not found: "+shipmentSpecimenID)
		}
		return result.DeletedCount, nil
	})
}
