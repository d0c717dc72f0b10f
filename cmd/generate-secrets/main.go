package main

import (
	"fmt"
	"log"

	"github.com/tripmarket/marketplace-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for TripMarket")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, webhookSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file or secret store:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Println()
	fmt.Println("The webhook secret must match the one configured on the payment gateway dashboard.")
	fmt.Println("Never commit these values to version control.")
	fmt.Println("===========================================")
}
