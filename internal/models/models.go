package models

import "time"

// AuthUser is the identity resolved by the authentication collaborator.
// It is passed explicitly into every coordinator call.
type AuthUser struct {
	ID    string
	Email string
}

type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Subscription is one user's request for recurring weather emails for a city.
type Subscription struct {
	ID             string
	OwnerID        string
	City           string
	RecipientEmail string
	SchedulerKey   string
	CronPattern    string
	CreatedAt      time.Time
}

// WeatherEmailJob is the payload snapshot carried by every fired job instance.
type WeatherEmailJob struct {
	City           string `json:"city"`
	RecipientEmail string `json:"recipientEmail"`
}

// SchedulerKeyFor derives the queue-backend dedup key from a subscription's
// stable id. Keys must never come from wall-clock time: retries would then
// register duplicate recurring jobs.
func SchedulerKeyFor(subscriptionID string) string {
	return "weather-" + subscriptionID
}
