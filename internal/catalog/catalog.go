// Package catalog holds the public site content: services, training
// programs, trained cohorts and contact details.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ProgramStatus marks whether a training program is open for enrollment.
type ProgramStatus string

const (
	StatusActive     ProgramStatus = "active"
	StatusComingSoon ProgramStatus = "coming_soon"
)

// Program is one training program.
type Program struct {
	ID          string        `yaml:"id" json:"id"`
	Title       string        `yaml:"title" json:"title"`
	Description string        `yaml:"description" json:"description"`
	Status      ProgramStatus `yaml:"status" json:"status"`
}

// Open reports whether the program accepts enrollment requests.
func (p Program) Open() bool {
	return p.Status == StatusActive
}

// Student is a featured graduate.
type Student struct {
	Name           string `yaml:"name" json:"name"`
	Image          string `yaml:"image" json:"image"`
	Specialization string `yaml:"specialization,omitempty" json:"specialization,omitempty"`
}

// Cohort summarizes graduates of one program.
type Cohort struct {
	Program     string    `yaml:"program" json:"program"`
	Count       int       `yaml:"count" json:"count"`
	Description string    `yaml:"description" json:"description"`
	Students    []Student `yaml:"students,omitempty" json:"students,omitempty"`
}

// Contact holds the direct contact details.
type Contact struct {
	Phone    string `yaml:"phone" json:"phone"`
	Email    string `yaml:"email" json:"email"`
	Location string `yaml:"location" json:"location"`
}

// Leader is the company founder shown in the leadership section.
type Leader struct {
	Name  string   `yaml:"name" json:"name"`
	Title string   `yaml:"title" json:"title"`
	Bio   []string `yaml:"bio" json:"bio"`
}

// Assistant holds the chat panel copy.
type Assistant struct {
	Greeting     string   `yaml:"greeting" json:"greeting"`
	QuickReplies []string `yaml:"quick_replies" json:"quick_replies"`
}

// Catalog is the whole site content.
type Catalog struct {
	Company    string    `yaml:"company" json:"company"`
	Tagline    string    `yaml:"tagline" json:"tagline"`
	Services   []string  `yaml:"services" json:"services"`
	Programs   []Program `yaml:"programs" json:"programs"`
	Cohorts    []Cohort  `yaml:"cohorts" json:"cohorts"`
	Contact    Contact   `yaml:"contact" json:"contact"`
	Leadership Leader    `yaml:"leadership" json:"leadership"`
	Assistant  Assistant `yaml:"assistant" json:"assistant"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks program ids and statuses.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[string]bool, len(c.Programs))
	for _, p := range c.Programs {
		if p.ID == "" || p.Title == "" {
			errs = append(errs, fmt.Errorf("program %q: id and title are required", p.Title))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate program id %q", p.ID))
		}
		seen[p.ID] = true
		if p.Status != StatusActive && p.Status != StatusComingSoon {
			errs = append(errs, fmt.Errorf("program %q: unknown status %q", p.Title, p.Status))
		}
	}
	return errors.Join(errs...)
}

// Program finds a program by title, ignoring case.
func (c *Catalog) Program(title string) (Program, bool) {
	title = strings.TrimSpace(title)
	for _, p := range c.Programs {
		if strings.EqualFold(p.Title, title) {
			return p, true
		}
	}
	return Program{}, false
}
