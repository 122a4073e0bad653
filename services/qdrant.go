package services

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

var DefaultQdrantClient = sync.OnceValue(func() *qdrant.Client {
	host := os.Getenv("QDRANT_HOST")
	port := os.Getenv("QDRANT_PORT")
	apiKey := os.Getenv("QDRANT_API_KEY")
	if host == "" || port == "" {
		panic("QDRANT_HOST or QDRANT_PORT is not set, required for the Qdrant case index")
	}

	portInt, err := strconv.Atoi(port)
	if err != nil {
		panic(fmt.Sprintf("failed to parse QDRANT_PORT: %v", err))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   portInt,
		APIKey: apiKey,
		UseTLS: apiKey != "",
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect to Qdrant: %v", err))
	}

	return client
})
