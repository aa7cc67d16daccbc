package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/payward/payward/app/models"
	"github.com/payward/payward/app/repository"
	"github.com/payward/payward/internal/pkg/database"
	"github.com/payward/payward/internal/pkg/env"
)

// Creates a merchant account and prints its API key. The key is shown
// exactly once; only its hash is stored.
func main() {
	name := flag.String("name", "", "merchant display name")
	email := flag.String("email", "", "merchant contact email (unique)")
	secret := flag.String("secret", "", "optional dashboard secret")
	flag.Parse()

	if *name == "" || *email == "" {
		flag.Usage()
		os.Exit(1)
	}

	env.SetupEnvFile()
	database.SetupDatabase()
	repository.InitializeFactory(database.GetDB())

	merchant := &models.Merchant{
		Name:   *name,
		Email:  *email,
		Status: models.MERCHANT_STATUS_ACTIVE,
	}

	if *secret != "" {
		if err := merchant.SetSecret(*secret); err != nil {
			log.Fatalf("Failed to hash secret: %v", err)
		}
	}

	apiKey, err := merchant.GenerateAPIKey()
	if err != nil {
		log.Fatalf("Failed to generate API key: %v", err)
	}

	if err := merchant.Validate(); err != nil {
		log.Fatalf("Invalid merchant: %v", err)
	}

	repo := repository.GetGlobalFactory().GetMerchantRepository()
	if err := repo.Create(merchant); err != nil {
		log.Fatalf("Failed to create merchant: %v", err)
	}

	fmt.Printf("Merchant created: id=%d name=%q email=%s\n", merchant.ID, merchant.Name, merchant.Email)
	fmt.Printf("API key (store it now, it will not be shown again): %s\n", apiKey)
}
