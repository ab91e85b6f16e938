package model

import (
	"strings"
	"time"
)

type Review struct {
	ID        string    `json:"id" db:"id"`
	Review    string    `json:"review" db:"review"`
	Rating    float64   `json:"rating" db:"rating"`
	TourID    string    `json:"tour" db:"tour_id"`
	UserID    string    `json:"user" db:"user_id"`
	Version   int       `json:"version" db:"version"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

func (r *Review) Normalize() {
	r.Review = strings.TrimSpace(r.Review)
}

func (r *Review) Validate() error {
	var errs ValidationErrors
	if r.Review == "" {
		errs.add("review", "Review can not be empty!")
	}
	if r.Rating < 1 || r.Rating > 5 {
		errs.add("rating", "Rating must be between 1 and 5")
	}
	if r.TourID == "" {
		errs.add("tour", "Review must belong to a tour.")
	}
	if r.UserID == "" {
		errs.add("user", "Review must belong to a user")
	}
	return errs.err()
}
