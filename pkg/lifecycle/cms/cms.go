// Package cms defines the CMS content kinds that participate in the content
// lifecycle: pages, posts, banners, FAQs, testimonials, team members and
// portfolio items.
package cms

import (
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// Content kinds
const (
	KindPage          lifecycle.Kind = "page"
	KindPost          lifecycle.Kind = "post"
	KindBanner        lifecycle.Kind = "banner"
	KindFAQ           lifecycle.Kind = "faq"
	KindTestimonial   lifecycle.Kind = "testimonial"
	KindTeamMember    lifecycle.Kind = "team_member"
	KindPortfolioItem lifecycle.Kind = "portfolio_item"
)

// Page is a standalone site page.
type Page struct {
	lifecycle.Base
	Title           string `json:"title"`
	Slug            string `json:"slug"`
	Body            string `json:"body"`
	Template        string `json:"template,omitempty"`
	MetaTitle       string `json:"meta_title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
}

func (*Page) Kind() lifecycle.Kind { return KindPage }

// Post is a blog post.
type Post struct {
	lifecycle.Base
	Title            string     `json:"title"`
	Slug             string     `json:"slug"`
	Excerpt          string     `json:"excerpt,omitempty"`
	Body             string     `json:"body"`
	AuthorID         *uuid.UUID `json:"author_id,omitempty"`
	Tags             []string   `json:"tags"`
	FeaturedImageURL string     `json:"featured_image_url,omitempty"`
}

func (*Post) Kind() lifecycle.Kind { return KindPost }

// Banner is a promotional banner shown in a site position.
type Banner struct {
	lifecycle.Base
	Title    string     `json:"title"`
	ImageURL string     `json:"image_url"`
	LinkURL  string     `json:"link_url,omitempty"`
	Position string     `json:"position"`
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (*Banner) Kind() lifecycle.Kind { return KindBanner }

// FAQ is a question and answer pair.
type FAQ struct {
	lifecycle.Base
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Category  string `json:"category,omitempty"`
	SortOrder int    `json:"sort_order"`
}

func (*FAQ) Kind() lifecycle.Kind { return KindFAQ }

// Testimonial is a customer quote.
type Testimonial struct {
	lifecycle.Base
	AuthorName  string `json:"author_name"`
	AuthorTitle string `json:"author_title,omitempty"`
	Company     string `json:"company,omitempty"`
	Quote       string `json:"quote"`
	Rating      int    `json:"rating"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

func (*Testimonial) Kind() lifecycle.Kind { return KindTestimonial }

// TeamMember is a staff profile.
type TeamMember struct {
	lifecycle.Base
	Name      string `json:"name"`
	Role      string `json:"role"`
	Bio       string `json:"bio,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
	Email     string `json:"email,omitempty"`
	SortOrder int    `json:"sort_order"`
}

func (*TeamMember) Kind() lifecycle.Kind { return KindTeamMember }

// PortfolioItem is a showcased project.
type PortfolioItem struct {
	lifecycle.Base
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Client      string     `json:"client,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Body        string     `json:"body"`
	ImageURLs   []string   `json:"image_urls"`
	ProjectURL  string     `json:"project_url,omitempty"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (*PortfolioItem) Kind() lifecycle.Kind { return KindPortfolioItem }

// Register adds every CMS kind to reg.
func Register(reg *lifecycle.KindRegistry) {
	reg.Register(KindPage, func() lifecycle.Item { return &Page{} })
	reg.Register(KindPost, func() lifecycle.Item { return &Post{} })
	reg.Register(KindBanner, func() lifecycle.Item { return &Banner{} })
	reg.Register(KindFAQ, func() lifecycle.Item { return &FAQ{} })
	reg.Register(KindTestimonial, func() lifecycle.Item { return &Testimonial{} })
	reg.Register(KindTeamMember, func() lifecycle.Item { return &TeamMember{} })
	reg.Register(KindPortfolioItem, func() lifecycle.Item { return &PortfolioItem{} })
}

// Registry returns a registry holding every CMS kind.
func Registry() *lifecycle.KindRegistry {
	reg := lifecycle.NewKindRegistry()
	Register(reg)
	return reg
}
