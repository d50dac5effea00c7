package persistence

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func NewMongoDb(host, port, user, password, name string) (*mongo.Client, error) {
	if host == "" {
		return nil, fmt.Errorf("mongo host not configured")
	}
	uri := fmt.Sprintf("mongodb://%s:%s/%s", host, port, name)
	opts := options.Client().ApplyURI(uri)
	if user != "" {
		opts.SetAuth(options.Credential{Username: user, Password: password})
	}
	return mongo.Connect(opts)
}
