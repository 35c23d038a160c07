// Package db owns the MongoDB client lifecycle
package db

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoClientInstanceOrError struct {
	clientInstance *mongo.Client
	err            error
}

var (
	clientInstances     = make(map[string]*mongoClientInstanceOrError) // Map of clients per connection string
	clientInstancesLock sync.Mutex                                     // Mutex to handle concurrent access
)

// GetMongoClient returns a singleton MongoDB client instance per connection string
func GetMongoClient(ctx context.Context, connectionString string) (*mongo.Client, error) {
	clientInstancesLock.Lock()
	defer clientInstancesLock.Unlock()
	if client, exists := clientInstances[connectionString]; exists {
		return client.clientInstance, client.err
	}

	logger := log.With().
		Str("ConnectionString", connectionString).
		Logger()
	sink := zerologr.New(&logger).GetSink()
	loggerOptions := options.
		Logger().
		SetSink(sink).
		SetMaxDocumentLength(25).
		SetComponentLevel(options.LogComponentCommand, options.LogLevelInfo)

	clientOptions := options.Client().ApplyURI(connectionString).SetLoggerOptions(loggerOptions)

	clientInstance, err := mongo.Connect(clientOptions)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to MongoDB")
		clientInstances[connectionString] = &mongoClientInstanceOrError{nil, err}
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = clientInstance.Ping(pingCtx, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to ping MongoDB")
		clientInstances[connectionString] = &mongoClientInstanceOrError{nil, err}
		return nil, err
	}
	logger.Info().Msg("Connected to MongoDB successfully.")
	instance := &mongoClientInstanceOrError{clientInstance, nil}
	clientInstances[connectionString] = instance

	return instance.clientInstance, nil
}

// GetDefaultMongoClient returns any previously registered client instance
func GetDefaultMongoClient() (*mongo.Client, error) {
	clientInstancesLock.Lock()
	defer clientInstancesLock.Unlock()
	for _, client := range clientInstances {
		return client.clientInstance, client.err
	}
	log.Error().Msg("No MongoDB client is registered with a connection string")
	return nil, ErrNoDefaultMongoClient
}
