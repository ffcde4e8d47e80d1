package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"

	"github.com/noah-isme/tour-booking-api/internal/models"
	"github.com/noah-isme/tour-booking-api/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	colorOK   = color.New(color.FgGreen, color.Bold).SprintFunc()
	colorErr  = color.New(color.FgRed, color.Bold).SprintFunc()
	colorInfo = color.New(color.FgBlue).SprintFunc()
)

// Dataset is the development fixture file. Records reference each other by
// natural keys because ids are assigned on insert.
type Dataset struct {
	Users   []SeedUser   `json:"users"`
	Tours   []SeedTour   `json:"tours"`
	Reviews []SeedReview `json:"reviews"`
}

// SeedUser is a user with a plaintext password.
type SeedUser struct {
	models.User
	Password string `json:"password"`
}

// SeedTour is a tour whose guides are given by email.
type SeedTour struct {
	models.Tour
	GuideEmails []string `json:"guideEmails"`
}

// SeedReview names its tour and author by tour name and user email.
type SeedReview struct {
	Review string  `json:"review"`
	Rating float64 `json:"rating"`
	Tour   string  `json:"tour"`
	User   string  `json:"user"`
}

// ParseDataset decodes a fixture file.
func ParseDataset(r io.Reader) (*Dataset, error) {
	var ds Dataset
	if err := json.NewDecoder(r).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}

type userStore interface {
	Insert(ctx context.Context, user *models.User) (string, error)
}

type tourCreator interface {
	CreateOne(ctx context.Context, tour *models.Tour) (*models.Tour, error)
}

type reviewCreator interface {
	CreateOne(ctx context.Context, review *models.Review) (*models.Review, error)
}

// Outcome counts the result of importing one resource.
type Outcome struct {
	Resource string
	Imported int
	Failed   []string
}

// Seeder imports a dataset through the same services the API uses, so tour
// validation and rating rollups apply to fixtures too.
type Seeder struct {
	users   userStore
	hasher  service.PasswordHasher
	tours   tourCreator
	reviews reviewCreator
}

// NewSeeder creates a Seeder.
func NewSeeder(users userStore, hasher service.PasswordHasher, tours tourCreator, reviews reviewCreator) *Seeder {
	return &Seeder{users: users, hasher: hasher, tours: tours, reviews: reviews}
}

// Import stores users, then tours, then reviews. A failing record is
// reported and skipped; records depending on it fail in turn.
func (s *Seeder) Import(ctx context.Context, ds *Dataset) []Outcome {
	userIDs := make(map[string]string, len(ds.Users))
	users := Outcome{Resource: "users"}
	for i := range ds.Users {
		u := ds.Users[i].User
		if err := s.importUser(ctx, &u, ds.Users[i].Password); err != nil {
			users.Failed = append(users.Failed, fmt.Sprintf("%s: %v", u.Email, err))
			continue
		}
		userIDs[u.Email] = u.ID
		users.Imported++
	}

	tourIDs := make(map[string]string, len(ds.Tours))
	tours := Outcome{Resource: "tours"}
	for i := range ds.Tours {
		t := ds.Tours[i].Tour
		t.Guides = nil
		missing := ""
		for _, email := range ds.Tours[i].GuideEmails {
			id, ok := userIDs[email]
			if !ok {
				missing = email
				break
			}
			t.Guides = append(t.Guides, id)
		}
		if missing != "" {
			tours.Failed = append(tours.Failed, fmt.Sprintf("%s: unknown guide %s", t.Name, missing))
			continue
		}
		created, err := s.tours.CreateOne(ctx, &t)
		if err != nil {
			tours.Failed = append(tours.Failed, fmt.Sprintf("%s: %v", t.Name, err))
			continue
		}
		tourIDs[created.Name] = created.ID
		tours.Imported++
	}

	reviews := Outcome{Resource: "reviews"}
	for _, r := range ds.Reviews {
		tourID, okTour := tourIDs[r.Tour]
		userID, okUser := userIDs[r.User]
		if !okTour || !okUser {
			reviews.Failed = append(reviews.Failed, fmt.Sprintf("%s by %s: unknown tour or user", r.Tour, r.User))
			continue
		}
		_, err := s.reviews.CreateOne(ctx, &models.Review{Review: r.Review, Rating: r.Rating, TourID: tourID, UserID: userID})
		if err != nil {
			reviews.Failed = append(reviews.Failed, fmt.Sprintf("%s by %s: %v", r.Tour, r.User, err))
			continue
		}
		reviews.Imported++
	}

	return []Outcome{users, tours, reviews}
}

func (s *Seeder) importUser(ctx context.Context, u *models.User, password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.Active = true
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.Photo == "" {
		u.Photo = models.DefaultPhoto
	}
	_, err = s.users.Insert(ctx, u)
	return err
}

// Render prints a summary table followed by every failure.
func Render(w io.Writer, outcomes []Outcome) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Resource", "Imported", "Failed"})
	for _, o := range outcomes {
		table.Append([]string{o.Resource, strconv.Itoa(o.Imported), strconv.Itoa(len(o.Failed))})
	}
	table.Render()

	failed := 0
	for _, o := range outcomes {
		for _, msg := range o.Failed {
			fmt.Fprintln(w, colorErr("x"), o.Resource, msg)
			failed++
		}
	}
	if failed == 0 {
		fmt.Fprintln(w, colorOK("√ data successfully loaded"))
		return
	}
	fmt.Fprintln(w, colorInfo(fmt.Sprintf("%d records skipped", failed)))
}

// Failed reports whether any record failed to import.
func Failed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if len(o.Failed) > 0 {
			return true
		}
	}
	return false
}
