package models

import "time"

// EmailMessage is the payload queued for the notifier
type EmailMessage struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Purpose   string    `json:"purpose"`
	CreatedAt time.Time `json:"created_at"`
}
