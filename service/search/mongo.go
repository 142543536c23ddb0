package search

import (
	"context"
	"strings"
	"sync"

	"PPHub/module/message"
	"PPHub/service/mgo"
	"PPHub/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend $text 全文索引（content + metadataText）。
// 连接由 mgo.Manager 在后台维护，未就绪时直接 SearchUnavailable。
type MongoBackend struct {
	mgr  *mgo.Manager
	coll string

	mu      sync.Mutex
	indexed bool
}

func NewMongo(mgr *mgo.Manager, coll string) (*MongoBackend, error) {
	if err := validIdent(coll); err != nil {
		return nil, err
	}
	return &MongoBackend{mgr: mgr, coll: coll}, nil
}

func (b *MongoBackend) Name() string { return "mongo" }

func (b *MongoBackend) collection(ctx context.Context) (*mongo.Collection, error) {
	db, ok := b.mgr.TryGetDB()
	if !ok {
		reason := "mongo not connected"
		if err := b.mgr.Err(); err != nil {
			reason += ": " + err.Error()
		}
		return nil, errs.ErrSearchUnavailable.WrapMsg(reason)
	}
	c := db.Collection(b.coll)
	if err := b.ensureIndexes(ctx, c); err != nil {
		return nil, unavailable(b.Name(), err)
	}
	return c, nil
}

// ensureIndexes 成功一次后不再执行
func (b *MongoBackend) ensureIndexes(ctx context.Context, c *mongo.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexed {
		return nil
	}
	_, err := c.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "content", Value: "text"}, {Key: "metadataText", Value: "text"}},
			Options: options.Index().SetName("content_text").SetDefaultLanguage("none"),
		},
		{
			Keys:    bson.D{{Key: "channelId", Value: 1}, {Key: "createdNs", Value: -1}},
			Options: options.Index().SetName("channel_created"),
		},
	})
	if err != nil {
		return err
	}
	b.indexed = true
	return nil
}

func (b *MongoBackend) Index(ctx context.Context, m message.Message) error {
	c, err := b.collection(ctx)
	if err != nil {
		return err
	}
	_, err = c.InsertOne(ctx, toDoc(m))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return unavailable(b.Name(), err)
}

func (b *MongoBackend) Search(ctx context.Context, q Query) ([]message.Message, error) {
	toks := tokens(q.Term)
	if len(toks) == 0 {
		return []message.Message{}, nil
	}
	c, err := b.collection(ctx)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"$text": bson.M{"$search": strings.Join(toks, " ")}}
	if q.ChannelID != "" {
		filter["channelId"] = q.ChannelID
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdNs", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable(b.Name(), err)
	}
	defer cur.Close(ctx)

	out := make([]message.Message, 0)
	for cur.Next(ctx) {
		var d doc
		if err := cur.Decode(&d); err != nil {
			return nil, unavailable(b.Name(), err)
		}
		msg, err := d.message()
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable(b.Name(), err)
	}
	return out, nil
}

func (b *MongoBackend) Ping(ctx context.Context) error {
	db, ok := b.mgr.TryGetDB()
	if !ok {
		if err := b.mgr.WaitReady(ctx); err != nil {
			return unavailable(b.Name(), err)
		}
		if db, ok = b.mgr.TryGetDB(); !ok {
			return errs.ErrSearchUnavailable.WrapMsg("mongo not connected")
		}
	}
	return unavailable(b.Name(), db.Client().Ping(ctx, nil))
}

// Close 连接随 StartAsync 的 ctx 一起释放
func (b *MongoBackend) Close() error { return nil }
