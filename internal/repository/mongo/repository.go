package mongo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"lunchfinder/discovery/internal/domain"
)

const favoritesDocID = "favorites"

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

type favoritesDoc struct {
	ID        string   `bson:"_id"`
	IDs       []string `bson:"ids"`
	UpdatedAt int64    `bson:"updatedAt"`
}

// FavoritesRepository stores the favorite id set as a single document.
type FavoritesRepository struct {
	collection *mongo.Collection
}

func NewFavoritesRepository(client *mongo.Client, dbName string) *FavoritesRepository {
	return &FavoritesRepository{collection: client.Database(dbName).Collection("favorites")}
}

func (r *FavoritesRepository) LoadAll(ctx context.Context) ([]string, error) {
	var doc favoritesDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": favoritesDocID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return normalizeIDs(doc.IDs), nil
}

func (r *FavoritesRepository) Persist(ctx context.Context, ids []string) error {
	update := bson.M{
		"$set": bson.M{
			"ids":       normalizeIDs(ids),
			"updatedAt": time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": favoritesDocID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}

type coordinateDoc struct {
	Latitude  float64 `bson:"lat"`
	Longitude float64 `bson:"lng"`
}

type filtersDoc struct {
	Keyword  string `bson:"keyword,omitempty"`
	Type     string `bson:"type,omitempty"`
	OpenNow  bool   `bson:"openNow,omitempty"`
	MinPrice int    `bson:"minPrice,omitempty"`
	MaxPrice int    `bson:"maxPrice,omitempty"`
}

type savedSearchDoc struct {
	ID           string         `bson:"_id"`
	Name         string         `bson:"name"`
	Kind         string         `bson:"kind"`
	Query        string         `bson:"query,omitempty"`
	Location     *coordinateDoc `bson:"location,omitempty"`
	RadiusMeters int            `bson:"radiusMeters,omitempty"`
	Filters      filtersDoc     `bson:"filters"`
	SortBy       string         `bson:"sortBy,omitempty"`
	CreatedAt    int64          `bson:"createdAt"`
	UpdatedAt    int64          `bson:"updatedAt"`
}

type SavedSearchRepository struct {
	collection *mongo.Collection
}

func NewSavedSearchRepository(client *mongo.Client, dbName string) *SavedSearchRepository {
	return &SavedSearchRepository{collection: client.Database(dbName).Collection("saved_searches")}
}

func (r *SavedSearchRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "name", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *SavedSearchRepository) Create(ctx context.Context, s domain.SavedSearch) error {
	_, err := r.collection.InsertOne(ctx, toDoc(s))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *SavedSearchRepository) Get(ctx context.Context, id string) (domain.SavedSearch, error) {
	var doc savedSearchDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.SavedSearch{}, domain.ErrNotFound
		}
		return domain.SavedSearch{}, err
	}
	return fromDoc(doc), nil
}

// List returns every saved search, newest first.
func (r *SavedSearchRepository) List(ctx context.Context) ([]domain.SavedSearch, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []savedSearchDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return fromDocs(docs), nil
}

func (r *SavedSearchRepository) Update(ctx context.Context, s domain.SavedSearch) error {
	doc := toDoc(s)
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SavedSearchRepository) Delete(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDoc(s domain.SavedSearch) savedSearchDoc {
	doc := savedSearchDoc{
		ID:           s.ID,
		Name:         strings.TrimSpace(s.Name),
		Kind:         string(s.Kind),
		Query:        strings.TrimSpace(s.Query),
		RadiusMeters: s.RadiusMeters,
		Filters: filtersDoc{
			Keyword:  s.Filters.Keyword,
			Type:     s.Filters.Type,
			OpenNow:  s.Filters.OpenNow,
			MinPrice: s.Filters.MinPrice,
			MaxPrice: s.Filters.MaxPrice,
		},
		SortBy:    string(s.SortBy),
		CreatedAt: s.CreatedAt.Unix(),
		UpdatedAt: s.UpdatedAt.Unix(),
	}
	if s.Location != nil {
		doc.Location = &coordinateDoc{Latitude: s.Location.Latitude, Longitude: s.Location.Longitude}
	}
	return doc
}

func fromDoc(doc savedSearchDoc) domain.SavedSearch {
	s := domain.SavedSearch{
		ID:           doc.ID,
		Name:         doc.Name,
		Kind:         domain.SearchKind(doc.Kind),
		Query:        doc.Query,
		RadiusMeters: doc.RadiusMeters,
		Filters: domain.SearchFilters{
			Keyword:  doc.Filters.Keyword,
			Type:     doc.Filters.Type,
			OpenNow:  doc.Filters.OpenNow,
			MinPrice: doc.Filters.MinPrice,
			MaxPrice: doc.Filters.MaxPrice,
		},
		SortBy:    domain.SortBy(doc.SortBy),
		CreatedAt: timeFromUnix(doc.CreatedAt),
		UpdatedAt: timeFromUnix(doc.UpdatedAt),
	}
	if doc.Location != nil {
		s.Location = &domain.Coordinate{Latitude: doc.Location.Latitude, Longitude: doc.Location.Longitude}
	}
	return s
}

func fromDocs(docs []savedSearchDoc) []domain.SavedSearch {
	items := make([]domain.SavedSearch, 0, len(docs))
	for _, doc := range docs {
		items = append(items, fromDoc(doc))
	}
	return items
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

// normalizeIDs trims, drops blanks and duplicates, and sorts.
func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		v := strings.TrimSpace(id)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		clean = append(clean, v)
	}
	sort.Strings(clean)
	return clean
}
