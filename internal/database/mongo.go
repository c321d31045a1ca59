package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"recloud/entity"
	"recloud/internal/config"
)

const (
	collectionUsers  = "users"
	collectionPromos = "promo_codes"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

// caseInsensitive makes username/email/code lookups match regardless of case.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

func (m *MongoDB) findUser(filter bson.D, opts ...*options.FindOneOptions) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	var user entity.User
	err = collection.FindOne(m.ctx, filter, opts...).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find user: %w", err)
	}
	return &user, nil
}

func (m *MongoDB) Users() ([]*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	cursor, err := collection.Find(m.ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list users: %w", err)
	}
	defer cursor.Close(m.ctx)

	var users []*entity.User
	if err = cursor.All(m.ctx, &users); err != nil {
		return nil, fmt.Errorf("mongodb decode users: %w", err)
	}
	return users, nil
}

func (m *MongoDB) UserById(id string) (*entity.User, error) {
	return m.findUser(bson.D{{Key: "id", Value: id}})
}

func (m *MongoDB) UserByUsername(username string) (*entity.User, error) {
	return m.findUser(bson.D{{Key: "username", Value: username}}, options.FindOne().SetCollation(caseInsensitive))
}

func (m *MongoDB) UserByEmail(email string) (*entity.User, error) {
	return m.findUser(bson.D{{Key: "email", Value: email}}, options.FindOne().SetCollation(caseInsensitive))
}

func (m *MongoDB) UserByLauncherCode(code string) (*entity.User, error) {
	return m.findUser(bson.D{{Key: "launcher_code", Value: code}})
}

func (m *MongoDB) UserByToken(token string) (*entity.User, error) {
	return m.findUser(bson.D{{Key: "token", Value: token}})
}

func (m *MongoDB) InsertUser(user *entity.User) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	_, err = collection.InsertOne(m.ctx, user)
	if err != nil {
		return fmt.Errorf("mongodb insert user: %w", err)
	}
	return nil
}

// SaveUsers replaces every given document by id in one bulk write, so a
// multi-user mutation (slot assignment, demotion cascade) lands as a
// single batch.
func (m *MongoDB) SaveUsers(users []*entity.User) error {
	if len(users) == 0 {
		return nil
	}
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	models := make([]mongo.WriteModel, 0, len(users))
	for _, user := range users {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "id", Value: user.Id}}).
			SetReplacement(user).
			SetUpsert(true))
	}
	collection := connection.Database(m.database).Collection(collectionUsers)
	_, err = collection.BulkWrite(m.ctx, models)
	if err != nil {
		return fmt.Errorf("mongodb save users: %w", err)
	}
	return nil
}

func (m *MongoDB) SaveUser(user *entity.User) error {
	return m.SaveUsers([]*entity.User{user})
}

func (m *MongoDB) DeleteUser(id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	_, err = collection.DeleteOne(m.ctx, bson.D{{Key: "id", Value: id}})
	if err != nil {
		return fmt.Errorf("mongodb delete user: %w", err)
	}
	return nil
}

func (m *MongoDB) PromoCodes() ([]*entity.PromoCode, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPromos)
	cursor, err := collection.Find(m.ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list promo codes: %w", err)
	}
	defer cursor.Close(m.ctx)

	var codes []*entity.PromoCode
	if err = cursor.All(m.ctx, &codes); err != nil {
		return nil, fmt.Errorf("mongodb decode promo codes: %w", err)
	}
	return codes, nil
}

func (m *MongoDB) findPromo(filter bson.D, opts ...*options.FindOneOptions) (*entity.PromoCode, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPromos)
	var promo entity.PromoCode
	err = collection.FindOne(m.ctx, filter, opts...).Decode(&promo)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find promo: %w", err)
	}
	return &promo, nil
}

func (m *MongoDB) PromoById(id string) (*entity.PromoCode, error) {
	return m.findPromo(bson.D{{Key: "id", Value: id}})
}

func (m *MongoDB) PromoByCode(code string) (*entity.PromoCode, error) {
	return m.findPromo(bson.D{{Key: "code", Value: code}}, options.FindOne().SetCollation(caseInsensitive))
}

func (m *MongoDB) InsertPromos(codes []*entity.PromoCode) error {
	if len(codes) == 0 {
		return nil
	}
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	docs := make([]interface{}, 0, len(codes))
	for _, code := range codes {
		docs = append(docs, code)
	}
	collection := connection.Database(m.database).Collection(collectionPromos)
	_, err = collection.InsertMany(m.ctx, docs)
	if err != nil {
		return fmt.Errorf("mongodb insert promos: %w", err)
	}
	return nil
}

func (m *MongoDB) SavePromo(promo *entity.PromoCode) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPromos)
	filter := bson.D{{Key: "id", Value: promo.Id}}
	update := bson.D{{Key: "$set", Value: promo}}
	opts := options.Update().SetUpsert(true)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("mongodb save promo: %w", err)
	}
	return nil
}

func (m *MongoDB) DeletePromo(id string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionPromos)
	_, err = collection.DeleteOne(m.ctx, bson.D{{Key: "id", Value: id}})
	if err != nil {
		return fmt.Errorf("mongodb delete promo: %w", err)
	}
	return nil
}

// DeletePromoGroup removes a promo group. With usedOnly set, only codes
// whose usage limit is exhausted are removed.
func (m *MongoDB) DeletePromoGroup(group string, usedOnly bool) (int64, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "group", Value: group}}
	if usedOnly {
		filter = append(filter, bson.E{Key: "$expr", Value: bson.D{
			{Key: "$and", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{"$uses_limit", 0}}},
				bson.D{{Key: "$gte", Value: bson.A{"$uses_count", "$uses_limit"}}},
			}},
		}})
	}
	collection := connection.Database(m.database).Collection(collectionPromos)
	result, err := collection.DeleteMany(m.ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodb delete promo group: %w", err)
	}
	return result.DeletedCount, nil
}
