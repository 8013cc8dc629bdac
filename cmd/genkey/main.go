// Command genkey encrypts an API key into the token clients send in the
// x-api-key header. The encryption key must match the server's
// ENCRYPTION_KEY setting.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/trueclaim/claims-engine/pkg/mid"
)

func main() {
	_ = godotenv.Load()

	encryptionKey := flag.String("encryption-key", os.Getenv("ENCRYPTION_KEY"), "shared encryption key")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "api key to encrypt")
	flag.Parse()

	if *encryptionKey == "" || *apiKey == "" {
		log.Fatal("both -encryption-key and -api-key are required")
	}

	token, err := mid.Encrypt(*encryptionKey, *apiKey)
	if err != nil {
		log.Fatalf("encrypt: %v", err)
	}
	fmt.Println(token)
}
