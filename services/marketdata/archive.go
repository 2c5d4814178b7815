package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"investsim_backend/services/provider"
)

const (
	archiveDBName     = "investsim_marketdata"
	archiveCollection = "raw_quotes"
)

// Archive is an optional audit trail of raw provider quotes in MongoDB.
// Every write is best-effort: the pipeline never fails because the
// archive is down.
type Archive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// rawQuoteDoc is the stored shape of one provider response.
type rawQuoteDoc struct {
	Symbol        string    `bson:"symbol"`
	Current       float64   `bson:"current"`
	Open          float64   `bson:"open"`
	High          float64   `bson:"high"`
	Low           float64   `bson:"low"`
	PreviousClose float64   `bson:"previous_close"`
	Source        string    `bson:"source"`
	FetchedAt     time.Time `bson:"fetched_at"`
}

// NewArchive connects to MongoDB and returns the archive, or nil when no
// URI is configured.
func NewArchive(ctx context.Context, uri string) (*Archive, error) {
	if uri == "" {
		log.Println("MONGO_URI not set, raw quote archive disabled")
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("MongoDB ping failed: %w", err)
	}

	log.Println("Raw quote archive connected")
	return &Archive{
		client: client,
		coll:   client.Database(archiveDBName).Collection(archiveCollection),
	}, nil
}

// SaveQuote records one raw provider quote.
func (a *Archive) SaveQuote(ctx context.Context, symbol string, quote *provider.Quote) error {
	insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.coll.InsertOne(insertCtx, rawQuoteDoc{
		Symbol:        symbol,
		Current:       quote.Current,
		Open:          quote.Open,
		High:          quote.High,
		Low:           quote.Low,
		PreviousClose: quote.PreviousClose,
		Source:        provider.SourceName,
		FetchedAt:     time.Now(),
	})
	return err
}

// Close disconnects from MongoDB.
func (a *Archive) Close(ctx context.Context) error {
	if a == nil || a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}
