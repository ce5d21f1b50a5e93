// Package mongo provides a MongoDB implementation of api.Store.
//
// Integer ids for categories, rules and providers come from a counters
// collection. Transactions use their email id as the document id, so the
// primary key enforces uniqueness.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/template"
)

// DefaultDatabase is used when Config.Database is empty.
const DefaultDatabase = "mailspend"

const (
	categoriesCollection   = "categories"
	rulesCollection        = "rules"
	providersCollection    = "providers"
	transactionsCollection = "transactions"
	countersCollection     = "counters"
)

// Config holds the MongoDB connection configuration.
type Config struct {
	URI      string
	Database string
}

// Store persists mailspend data in MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

type categoryDoc struct {
	ID        int64  `bson:"_id"`
	Name      string `bson:"name"`
	NameLower string `bson:"nameLower"`
	Icon      string `bson:"icon"`
	Color     string `bson:"color"`
}

type ruleDoc struct {
	ID            int64         `bson:"_id"`
	Keyword       string        `bson:"keyword"`
	CategoryID    int64         `bson:"categoryId"`
	MatchType     api.MatchType `bson:"matchType"`
	IsUserCreated bool          `bson:"isUserCreated"`
	CreatedAt     time.Time     `bson:"createdAt"`
}

type providerDoc struct {
	ID          int64        `bson:"_id"`
	Name        string       `bson:"name"`
	Description string       `bson:"description"`
	Icon        string       `bson:"icon"`
	Template    api.Template `bson:"template"`
}

type transactionDoc struct {
	EmailID    string              `bson:"_id"`
	ProviderID int64               `bson:"providerId,omitempty"`
	Merchant   string              `bson:"merchant"`
	Amount     float64             `bson:"amount"`
	Currency   string              `bson:"currency"`
	Date       time.Time           `bson:"date"`
	Category   string              `bson:"category"`
	Source     string              `bson:"source"`
	Type       api.TransactionType `bson:"type"`
	Notes      string              `bson:"notes,omitempty"`
}

// New connects to MongoDB, verifies the connection and creates indexes.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}

	logger.DebugContext(ctx, "connecting to MongoDB", "database", cfg.Database)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.InfoContext(ctx, "connected to MongoDB", "database", cfg.Database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string]mongo.IndexModel{
		categoriesCollection: {
			Keys:    bson.D{{Key: "nameLower", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		rulesCollection: {
			Keys: bson.D{{Key: "categoryId", Value: 1}},
		},
		providersCollection: {
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		transactionsCollection: {
			Keys: bson.D{{Key: "date", Value: -1}},
		},
	}
	for coll, model := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("creating index on %s: %w", coll, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Warn("failed to disconnect from MongoDB", "error", err)
		return
	}
	s.logger.Info("closed MongoDB connection")
}

// nextID atomically increments and returns the named sequence.
func (s *Store) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocating %s id: %w", name, err)
	}
	return counter.Seq, nil
}

// ListRules returns every rule with its category name.
func (s *Store) ListRules(ctx context.Context) ([]api.Rule, error) {
	cats, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	var docs []ruleDoc
	if err := s.findAll(ctx, rulesCollection, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), &docs); err != nil {
		return nil, err
	}

	rules := make([]api.Rule, 0, len(docs))
	for _, d := range docs {
		name, ok := names[d.CategoryID]
		if !ok {
			continue
		}
		rules = append(rules, api.Rule{
			ID:            d.ID,
			Keyword:       d.Keyword,
			CategoryID:    d.CategoryID,
			CategoryName:  name,
			MatchType:     d.MatchType,
			IsUserCreated: d.IsUserCreated,
			CreatedAt:     d.CreatedAt,
		})
	}
	return rules, nil
}

// InsertRule stores a rule, resolving its category by ID or name.
func (s *Store) InsertRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	cat, err := s.resolveCategory(ctx, rule)
	if err != nil {
		return api.Rule{}, err
	}

	id, err := s.nextID(ctx, rulesCollection)
	if err != nil {
		return api.Rule{}, err
	}

	doc := ruleDoc{
		ID:            id,
		Keyword:       rule.Keyword,
		CategoryID:    cat.ID,
		MatchType:     rule.MatchType,
		IsUserCreated: rule.IsUserCreated,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := s.db.Collection(rulesCollection).InsertOne(ctx, doc); err != nil {
		return api.Rule{}, fmt.Errorf("inserting rule: %w", err)
	}

	rule.ID = doc.ID
	rule.CategoryID = cat.ID
	rule.CategoryName = cat.Name
	rule.CreatedAt = doc.CreatedAt
	return rule, nil
}

// UpdateRule replaces keyword, category and match type of an existing rule.
func (s *Store) UpdateRule(ctx context.Context, rule api.Rule) (api.Rule, error) {
	cat, err := s.resolveCategory(ctx, rule)
	if err != nil {
		return api.Rule{}, err
	}

	var doc ruleDoc
	err = s.db.Collection(rulesCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": rule.ID},
		bson.M{"$set": bson.M{
			"keyword":    rule.Keyword,
			"categoryId": cat.ID,
			"matchType":  rule.MatchType,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return api.Rule{}, fmt.Errorf("rule %d: %w", rule.ID, api.ErrNotFound)
	}
	if err != nil {
		return api.Rule{}, fmt.Errorf("updating rule %d: %w", rule.ID, err)
	}

	return api.Rule{
		ID:            doc.ID,
		Keyword:       doc.Keyword,
		CategoryID:    cat.ID,
		CategoryName:  cat.Name,
		MatchType:     doc.MatchType,
		IsUserCreated: doc.IsUserCreated,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, rulesCollection, "rule", id)
}

func (s *Store) resolveCategory(ctx context.Context, rule api.Rule) (api.Category, error) {
	filter := bson.M{"_id": rule.CategoryID}
	if rule.CategoryID == 0 {
		filter = bson.M{"nameLower": strings.ToLower(strings.TrimSpace(rule.CategoryName))}
	}

	var doc categoryDoc
	err := s.db.Collection(categoriesCollection).FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return api.Category{}, fmt.Errorf("category %q: %w", rule.CategoryName, api.ErrUnknownCategory)
	}
	if err != nil {
		return api.Category{}, fmt.Errorf("resolving category: %w", err)
	}
	return api.Category{ID: doc.ID, Name: doc.Name, Icon: doc.Icon, Color: doc.Color}, nil
}

// ListCategories returns all categories ordered by ID.
func (s *Store) ListCategories(ctx context.Context) ([]api.Category, error) {
	var docs []categoryDoc
	if err := s.findAll(ctx, categoriesCollection, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), &docs); err != nil {
		return nil, err
	}

	cats := make([]api.Category, 0, len(docs))
	for _, d := range docs {
		cats = append(cats, api.Category{ID: d.ID, Name: d.Name, Icon: d.Icon, Color: d.Color})
	}
	return cats, nil
}

// InsertCategory stores a category. Names are unique, ignoring case.
func (s *Store) InsertCategory(ctx context.Context, c api.Category) (api.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return api.Category{}, errors.New("category name is required")
	}

	id, err := s.nextID(ctx, categoriesCollection)
	if err != nil {
		return api.Category{}, err
	}

	_, err = s.db.Collection(categoriesCollection).InsertOne(ctx, categoryDoc{
		ID:        id,
		Name:      c.Name,
		NameLower: strings.ToLower(c.Name),
		Icon:      c.Icon,
		Color:     c.Color,
	})
	if mongo.IsDuplicateKeyError(err) {
		return api.Category{}, fmt.Errorf("category %q: %w", c.Name, api.ErrDuplicate)
	}
	if err != nil {
		return api.Category{}, fmt.Errorf("inserting category: %w", err)
	}

	c.ID = id
	return c, nil
}

// DeleteCategory removes a category and every rule that references it.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.deleteByID(ctx, categoriesCollection, "category", id); err != nil {
		return err
	}
	res, err := s.db.Collection(rulesCollection).DeleteMany(ctx, bson.M{"categoryId": id})
	if err != nil {
		return fmt.Errorf("deleting rules of category %d: %w", id, err)
	}
	s.logger.Debug("deleted category", "category_id", id, "rules", res.DeletedCount)
	return nil
}

// ListProviders returns all providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context) ([]api.Provider, error) {
	var docs []providerDoc
	if err := s.findAll(ctx, providersCollection, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), &docs); err != nil {
		return nil, err
	}

	providers := make([]api.Provider, 0, len(docs))
	for _, d := range docs {
		providers = append(providers, d.toAPI())
	}
	return providers, nil
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, id int64) (api.Provider, error) {
	var doc providerDoc
	err := s.db.Collection(providersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return api.Provider{}, fmt.Errorf("provider %d: %w", id, api.ErrNotFound)
	}
	if err != nil {
		return api.Provider{}, fmt.Errorf("finding provider %d: %w", id, err)
	}
	return doc.toAPI(), nil
}

func (d providerDoc) toAPI() api.Provider {
	return api.Provider{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Template:    d.Template,
	}
}

// SaveProvider validates the template and inserts or updates the provider.
// Providers are matched by ID when set, otherwise by name.
func (s *Store) SaveProvider(ctx context.Context, p api.Provider) (api.Provider, error) {
	if err := template.Validate(p.Template); err != nil {
		return api.Provider{}, err
	}

	coll := s.db.Collection(providersCollection)
	filter := bson.M{"_id": p.ID}
	if p.ID == 0 {
		var existing providerDoc
		err := coll.FindOne(ctx, bson.M{"name": p.Name}).Decode(&existing)
		switch {
		case err == nil:
			p.ID = existing.ID
			filter = bson.M{"_id": p.ID}
		case errors.Is(err, mongo.ErrNoDocuments):
			return s.insertProvider(ctx, p)
		default:
			return api.Provider{}, fmt.Errorf("finding provider %q: %w", p.Name, err)
		}
	}

	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"name":        p.Name,
		"description": p.Description,
		"icon":        p.Icon,
		"template":    p.Template,
	}})
	if mongo.IsDuplicateKeyError(err) {
		return api.Provider{}, fmt.Errorf("provider %q: %w", p.Name, api.ErrDuplicate)
	}
	if err != nil {
		return api.Provider{}, fmt.Errorf("updating provider %q: %w", p.Name, err)
	}
	if res.MatchedCount == 0 {
		return api.Provider{}, fmt.Errorf("provider %d: %w", p.ID, api.ErrNotFound)
	}
	return p, nil
}

func (s *Store) insertProvider(ctx context.Context, p api.Provider) (api.Provider, error) {
	id, err := s.nextID(ctx, providersCollection)
	if err != nil {
		return api.Provider{}, err
	}
	p.ID = id

	_, err = s.db.Collection(providersCollection).InsertOne(ctx, providerDoc{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Icon:        p.Icon,
		Template:    p.Template,
	})
	if mongo.IsDuplicateKeyError(err) {
		return api.Provider{}, fmt.Errorf("provider %q: %w", p.Name, api.ErrDuplicate)
	}
	if err != nil {
		return api.Provider{}, fmt.Errorf("inserting provider %q: %w", p.Name, err)
	}
	return p, nil
}

// DeleteProvider removes a provider. Its transactions are kept.
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, providersCollection, "provider", id)
}

// ListExistingTransactionIDs returns the email IDs of all stored transactions.
func (s *Store) ListExistingTransactionIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := s.findAll(ctx, transactionsCollection, bson.M{}, opts, &docs); err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// InsertTransaction stores t, failing with api.ErrDuplicate if its email ID exists.
func (s *Store) InsertTransaction(ctx context.Context, t api.Transaction) error {
	if t.EmailID == "" {
		return errors.New("transaction email id is required")
	}
	if t.Type == "" {
		t.Type = api.Expense
	}

	_, err := s.db.Collection(transactionsCollection).InsertOne(ctx, transactionDoc{
		EmailID:    t.EmailID,
		ProviderID: t.ProviderID,
		Merchant:   t.Merchant,
		Amount:     t.Amount,
		Currency:   t.Currency,
		Date:       t.Date.UTC(),
		Category:   t.Category,
		Source:     t.Source,
		Type:       t.Type,
		Notes:      t.Notes,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("transaction %s: %w", t.EmailID, api.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("inserting transaction %s: %w", t.EmailID, err)
	}
	return nil
}

// ListTransactions returns matching transactions, newest first.
func (s *Store) ListTransactions(ctx context.Context, f api.TransactionFilter) ([]api.Transaction, error) {
	filter := bson.M{}
	date := bson.M{}
	if !f.From.IsZero() {
		date["$gte"] = f.From
	}
	if !f.To.IsZero() {
		date["$lt"] = f.To
	}
	if len(date) > 0 {
		filter["date"] = date
	}
	if f.ProviderID != 0 {
		filter["providerId"] = f.ProviderID
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}

	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	var docs []transactionDoc
	if err := s.findAll(ctx, transactionsCollection, filter, opts, &docs); err != nil {
		return nil, err
	}

	txs := make([]api.Transaction, 0, len(docs))
	for _, d := range docs {
		txs = append(txs, api.Transaction{
			EmailID:    d.EmailID,
			ProviderID: d.ProviderID,
			Merchant:   d.Merchant,
			Amount:     d.Amount,
			Currency:   d.Currency,
			Date:       d.Date.UTC(),
			Category:   d.Category,
			Source:     d.Source,
			Type:       d.Type,
			Notes:      d.Notes,
		})
	}
	return txs, nil
}

func (s *Store) findAll(ctx context.Context, coll string, filter any, opts *options.FindOptions, out any) error {
	cur, err := s.db.Collection(coll).Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("querying %s: %w", coll, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decoding %s: %w", coll, err)
	}
	return nil
}

func (s *Store) deleteByID(ctx context.Context, coll, kind string, id int64) error {
	res, err := s.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting %s %d: %w", kind, id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, api.ErrNotFound)
	}
	return nil
}

var _ api.Store = (*Store)(nil)
