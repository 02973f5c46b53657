package users

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
	"github.com/gogotex/gogotex/backend/auth-service/pkg/logger"
)

// MongoRepository implements Repository using MongoDB. Uniqueness is enforced
// by the indexes created in EnsureIndexes.
type MongoRepository struct {
	users *mongo.Collection
	links *mongo.Collection
}

// NewMongoRepository creates a new repository on db's users and provider_links collections.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		users: db.Collection("users"),
		links: db.Collection("provider_links"),
	}
}

// EnsureIndexes creates the unique indexes the repository relies on.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	_, err = r.links.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "providerAccountId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("provider_account_unique"),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetName("user_id"),
		},
	})
	if err != nil {
		return fmt.Errorf("provider_links index: %w", err)
	}
	return nil
}

func (r *MongoRepository) CreateUser(ctx context.Context, u *models.User) error {
	_, err := r.users.InsertOne(ctx, u)
	return mapMongoErr(err)
}

func (r *MongoRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return r.findUser(ctx, bson.M{"_id": id})
}

func (r *MongoRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findUser(ctx, bson.M{"email": email})
}

func (r *MongoRepository) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mapMongoErr(err)
	}
	return &u, nil
}

func (r *MongoRepository) UpdateUser(ctx context.Context, u *models.User) error {
	res, err := r.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u)
	if err != nil {
		return mapMongoErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRepository) CreateLink(ctx context.Context, l *models.ProviderLink) error {
	_, err := r.links.InsertOne(ctx, l)
	return mapMongoErr(err)
}

func (r *MongoRepository) GetLink(ctx context.Context, provider, accountID string) (*models.ProviderLink, error) {
	var l models.ProviderLink
	err := r.links.FindOne(ctx, bson.M{"provider": provider, "providerAccountId": accountID}).Decode(&l)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return &l, nil
}

func (r *MongoRepository) ListLinks(ctx context.Context, userID string) ([]*models.ProviderLink, error) {
	cur, err := r.links.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "linkedAt", Value: 1}}))
	if err != nil {
		return nil, mapMongoErr(err)
	}
	var out []*models.ProviderLink
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapMongoErr(err)
	}
	return out, nil
}

// CreateUserWithLink inserts the user then the link. Standalone servers have
// no multi-document transactions, so a failed link insert removes the user again.
func (r *MongoRepository) CreateUserWithLink(ctx context.Context, u *models.User, l *models.ProviderLink) error {
	if err := r.CreateUser(ctx, u); err != nil {
		return err
	}
	if err := r.CreateLink(ctx, l); err != nil {
		if _, derr := r.users.DeleteOne(ctx, bson.M{"_id": u.ID}); derr != nil {
			logger.FromContext(ctx).Errorw("orphaned user after failed link insert", "userId", u.ID, "err", derr)
		}
		return err
	}
	return nil
}

func mapMongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrAlreadyExists
	}
	return fmt.Errorf("mongo error: %w", err)
}
