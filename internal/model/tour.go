package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
	"golang.org/x/text/unicode/norm"
)

type Difficulty string

const (
	DifficultyEasy      Difficulty = "easy"
	DifficultyMedium    Difficulty = "medium"
	DifficultyDifficult Difficulty = "difficult"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyDifficult:
		return true
	}
	return false
}

const DefaultRatingsAverage = 4.5

// Location is a GeoJSON point with a description, stored as JSONB.
type Location struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
	Address     string    `json:"address,omitempty"`
	Description string    `json:"description,omitempty"`
	Day         int       `json:"day,omitempty"`
}

func (l Location) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *Location) Scan(value interface{}) error {
	return scanJSON(value, l)
}

type Locations []Location

func (l Locations) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Location(l))
}

func (l *Locations) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// DateList is stored as a JSONB array of RFC 3339 timestamps.
type DateList []time.Time

func (d DateList) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]time.Time(d))
}

func (d *DateList) Scan(value interface{}) error {
	return scanJSON(value, d)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(raw, dest)
}

type Tour struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Slug            string         `json:"slug" db:"slug"`
	Duration        int            `json:"duration" db:"duration"`
	MaxGroupSize    int            `json:"maxGroupSize" db:"max_group_size"`
	Difficulty      Difficulty     `json:"difficulty" db:"difficulty"`
	RatingsAverage  float64        `json:"ratingsAverage" db:"ratings_average"`
	RatingsQuantity int            `json:"ratingsQuantity" db:"ratings_quantity"`
	Price           float64        `json:"price" db:"price"`
	PriceDiscount   *float64       `json:"priceDiscount,omitempty" db:"price_discount"`
	Summary         string         `json:"summary" db:"summary"`
	Description     string         `json:"description,omitempty" db:"description"`
	ImageCover      string         `json:"imageCover" db:"image_cover"`
	Images          pq.StringArray `json:"images" db:"images"`
	StartDates      DateList       `json:"startDates" db:"start_dates"`
	SecretTour      bool           `json:"secretTour" db:"secret_tour"`
	StartLocation   *Location      `json:"startLocation,omitempty" db:"start_location"`
	Locations       Locations      `json:"locations" db:"locations"`
	Guides          pq.StringArray `json:"guides" db:"guides"`
	Version         int            `json:"version" db:"version"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`

	// Populated on demand by the tour store.
	GuideDetails []*User   `json:"guideDetails,omitempty" db:"-"`
	Reviews      []*Review `json:"reviews,omitempty" db:"-"`
}

// MarshalJSON adds the durationWeeks virtual field.
func (t Tour) MarshalJSON() ([]byte, error) {
	type tour Tour
	return json.Marshal(struct {
		tour
		DurationWeeks float64 `json:"durationWeeks"`
	}{tour: tour(t), DurationWeeks: t.DurationWeeks()})
}

func (t *Tour) DurationWeeks() float64 {
	return float64(t.Duration) / 7
}

func (t *Tour) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.Summary = strings.TrimSpace(t.Summary)
	t.Description = strings.TrimSpace(t.Description)
	t.Slug = Slugify(t.Name)
	if t.RatingsAverage == 0 {
		t.RatingsAverage = DefaultRatingsAverage
	}
	t.RatingsAverage = math.Round(t.RatingsAverage*10) / 10
	if t.StartLocation != nil && t.StartLocation.Type == "" {
		t.StartLocation.Type = "Point"
	}
	for i := range t.Locations {
		if t.Locations[i].Type == "" {
			t.Locations[i].Type = "Point"
		}
	}
	if t.Images == nil {
		t.Images = pq.StringArray{}
	}
	if t.Guides == nil {
		t.Guides = pq.StringArray{}
	}
}

func (t *Tour) Validate() error {
	var errs ValidationErrors
	switch n := len([]rune(t.Name)); {
	case n == 0:
		errs.add("name", "A tour must have a name")
	case n < 10:
		errs.add("name", "A tour name must have more or equal then 10 characters")
	case n > 40:
		errs.add("name", "A tour name must have less or equal then 40 characters")
	}
	if t.Duration <= 0 {
		errs.add("duration", "A tour must have a duration")
	}
	if t.MaxGroupSize <= 0 {
		errs.add("maxGroupSize", "A tour must have a group size")
	}
	if !t.Difficulty.Valid() {
		errs.add("difficulty", "Difficulty is either: easy, medium, difficult")
	}
	if t.RatingsAverage < 1 {
		errs.add("ratingsAverage", "Rating must be above 1.0")
	} else if t.RatingsAverage > 5 {
		errs.add("ratingsAverage", "Rating must be below 5.0")
	}
	if t.Price <= 0 {
		errs.add("price", "A tour must have a price")
	}
	if t.PriceDiscount != nil && *t.PriceDiscount >= t.Price {
		errs.add("priceDiscount", fmt.Sprintf("Discount price (%v) should be below regular price", *t.PriceDiscount))
	}
	if t.Summary == "" {
		errs.add("summary", "A tour must have a description")
	}
	if t.ImageCover == "" {
		errs.add("imageCover", "A tour must have a cover image")
	}
	for _, l := range t.Locations {
		if l.Type != "Point" {
			errs.add("locations", "Location type must be Point")
			break
		}
	}
	if t.StartLocation != nil && t.StartLocation.Type != "Point" {
		errs.add("startLocation", "Location type must be Point")
	}
	return errs.err()
}

type TourStats struct {
	Difficulty string  `json:"difficulty" db:"difficulty"`
	NumTours   int     `json:"numTours" db:"num_tours"`
	NumRatings int     `json:"numRatings" db:"num_ratings"`
	AvgRating  float64 `json:"avgRating" db:"avg_rating"`
	AvgPrice   float64 `json:"avgPrice" db:"avg_price"`
	MinPrice   float64 `json:"minPrice" db:"min_price"`
	MaxPrice   float64 `json:"maxPrice" db:"max_price"`
}

type MonthlyPlan struct {
	Month         int            `json:"month" db:"month"`
	NumTourStarts int            `json:"numTourStarts" db:"num_tour_starts"`
	Tours         pq.StringArray `json:"tours" db:"tours"`
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s, strips diacritics and joins words with dashes.
func Slugify(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Trim(nonSlugChars.ReplaceAllString(b.String(), "-"), "-")
}
