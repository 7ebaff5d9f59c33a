package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// EventState is the declared or derived status of a round
type EventState string

const (
	StateOpen       EventState = "open"
	StateUpcoming   EventState = "upcoming"
	StateClosed     EventState = "closed"
	StateEndingSoon EventState = "ending-soon"
)

// EventInfo is the static configuration of one round
type EventInfo struct {
	ID                   Round      `yaml:"id" json:"id"`
	Name                 string     `yaml:"name" json:"name"`
	Slug                 string     `yaml:"slug" json:"slug"`
	Status               EventState `yaml:"status" json:"status"`
	StartDate            time.Time  `yaml:"startDate" json:"startDate"`
	EndDate              *time.Time `yaml:"endDate,omitempty" json:"endDate,omitempty"`
	RegistrationDeadline *time.Time `yaml:"registrationDeadline,omitempty" json:"registrationDeadline,omitempty"`
	MaxCapacity          *int       `yaml:"maxCapacity,omitempty" json:"maxCapacity,omitempty"`
	CurrentCount         *int       `yaml:"currentCount,omitempty" json:"currentCount,omitempty"`
	SheetName            string     `yaml:"sheetName" json:"sheetName"`
	HasRegion            bool       `yaml:"hasRegion" json:"hasRegion"`
	HasContestantID      bool       `yaml:"hasContestantId" json:"hasContestantId"`
}

// EventStatus is derived on every request and never stored
type EventStatus struct {
	Status      EventState `json:"status"`
	CanRegister bool       `json:"canRegister"`
	DaysLeft    *int       `json:"daysLeft,omitempty"`
	HoursLeft   *int       `json:"hoursLeft,omitempty"`
	Message     string     `json:"message,omitempty"`
}

func vnDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, VietnamTime)
}

func vnEndOfDay(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 23, 59, 59, 0, VietnamTime)
	return &t
}

// DefaultEvents is the 2025 round table
func DefaultEvents() []EventInfo {
	return []EventInfo{
		{
			ID:        RoundHopBao,
			Name:      "Họp báo",
			Slug:      "hop-bao",
			Status:    StateOpen,
			StartDate: vnDate(2025, time.September, 27),
			SheetName: "HopBao",
		},
		{
			ID:        RoundSoKhao,
			Name:      "Sơ khảo",
			Slug:      "so-khao",
			Status:    StateUpcoming,
			StartDate: vnDate(2025, time.October, 5),
			EndDate:   vnEndOfDay(2025, time.November, 25),
			SheetName: "SoKhao",
			HasRegion: true,
		},
		{
			ID:              RoundBanKet,
			Name:            "Bán kết",
			Slug:            "ban-ket",
			Status:          StateUpcoming,
			StartDate:       vnDate(2025, time.December, 15),
			SheetName:       "BanKet",
			HasContestantID: true,
		},
		{
			ID:        RoundChungKet,
			Name:      "Chung kết",
			Slug:      "chung-ket",
			Status:    StateUpcoming,
			StartDate: vnDate(2025, time.December, 28),
			SheetName: "ChungKet",
		},
	}
}

// Catalog is the read-only set of rounds, one EventInfo per round
type Catalog struct {
	events []EventInfo
	byID   map[Round]EventInfo
}

// NewCatalog validates events and indexes them by round
func NewCatalog(events []EventInfo) (*Catalog, error) {
	c := &Catalog{byID: make(map[Round]EventInfo, len(events))}
	sheets := make(map[string]Round, len(events))

	for _, e := range events {
		if e.ID == "" {
			return nil, fmt.Errorf("event without id")
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("event %q defined twice", e.ID)
		}
		if e.SheetName == "" {
			return nil, fmt.Errorf("event %q has no sheet name", e.ID)
		}
		if other, dup := sheets[e.SheetName]; dup {
			return nil, fmt.Errorf("events %q and %q share sheet %q", other, e.ID, e.SheetName)
		}
		switch e.Status {
		case StateOpen, StateUpcoming, StateClosed:
		default:
			return nil, fmt.Errorf("event %q has invalid status %q", e.ID, e.Status)
		}
		sheets[e.SheetName] = e.ID
		c.byID[e.ID] = e
		c.events = append(c.events, e)
	}
	return c, nil
}

// DefaultCatalog returns the built-in round table
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultEvents())
	if err != nil {
		panic(err)
	}
	return c
}

// Get looks up a round by id
func (c *Catalog) Get(id string) (EventInfo, bool) {
	e, ok := c.byID[Round(id)]
	return e, ok
}

// All returns the rounds in declaration order
func (c *Catalog) All() []EventInfo {
	out := make([]EventInfo, len(c.events))
	copy(out, c.events)
	return out
}

type catalogFile struct {
	Events []eventOverride `yaml:"events"`
}

// eventOverride holds the fields an operator may change for a known round
type eventOverride struct {
	ID                   Round       `yaml:"id"`
	Name                 *string     `yaml:"name"`
	Status               *EventState `yaml:"status"`
	StartDate            *time.Time  `yaml:"startDate"`
	EndDate              *time.Time  `yaml:"endDate"`
	RegistrationDeadline *time.Time  `yaml:"registrationDeadline"`
	MaxCapacity          *int        `yaml:"maxCapacity"`
	CurrentCount         *int        `yaml:"currentCount"`
	SheetName            *string     `yaml:"sheetName"`
}

func (o eventOverride) apply(e *EventInfo) {
	if o.Name != nil {
		e.Name = *o.Name
	}
	if o.Status != nil {
		e.Status = *o.Status
	}
	if o.StartDate != nil {
		e.StartDate = *o.StartDate
	}
	if o.EndDate != nil {
		e.EndDate = o.EndDate
	}
	if o.RegistrationDeadline != nil {
		e.RegistrationDeadline = o.RegistrationDeadline
	}
	if o.MaxCapacity != nil {
		e.MaxCapacity = o.MaxCapacity
	}
	if o.CurrentCount != nil {
		e.CurrentCount = o.CurrentCount
	}
	if o.SheetName != nil {
		e.SheetName = *o.SheetName
	}
}

// ParseCatalogOverrides applies YAML overrides on top of the default rounds.
// Only existing rounds can be overridden; the field flags stay fixed.
func ParseCatalogOverrides(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}

	events := DefaultEvents()
	index := make(map[Round]int, len(events))
	for i, e := range events {
		index[e.ID] = i
	}

	for _, o := range file.Events {
		i, ok := index[o.ID]
		if !ok {
			return nil, fmt.Errorf("unknown round %q in events file", o.ID)
		}
		o.apply(&events[i])
	}

	return NewCatalog(events)
}

// LoadCatalog returns the default catalog, or the overridden one when path is set
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}
	return ParseCatalogOverrides(data)
}
