package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/promopal-backend/internal/errors"
	"github.com/unclebandit/promopal-backend/internal/logger"
	"github.com/unclebandit/promopal-backend/internal/metrics"
	"github.com/unclebandit/promopal-backend/internal/model"
	"github.com/unclebandit/promopal-backend/internal/provider/gemini"
	"github.com/unclebandit/promopal-backend/internal/repository"
	"github.com/unclebandit/promopal-backend/internal/segment"
)

const (
	CategoryWinBack = "win-back"
	CategoryWelcome = "welcome"
	CategoryLoyalty = "loyalty"
	CategoryWinter  = "winter"
	CategorySpring  = "spring"
	CategorySummer  = "summer"
	CategoryFall    = "fall"
	CategoryHoliday = "holiday"

	defaultCadenceDays = 14
	defaultMaxUpcoming = 3
	upcomingLimit      = 5
)

type autoCategory struct {
	segment      string
	campaignType string
	label        string
}

var autoCategories = map[string]autoCategory{
	CategoryWinBack: {"inactive-30", "win-back offer for clients who have not visited in a while", "We Miss You"},
	CategoryWelcome: {"new-clients", "welcome series for first-time clients", "Welcome"},
	CategoryLoyalty: {"loyal-clients", "loyalty reward for regular clients", "Loyalty Rewards"},
	CategoryWinter:  {"all", "seasonal winter promotion", "Winter Refresh"},
	CategorySpring:  {"all", "seasonal spring promotion", "Spring Into Spring"},
	CategorySummer:  {"all", "seasonal summer promotion", "Summer Special"},
	CategoryFall:    {"all", "seasonal fall promotion", "Fall Favorites"},
	CategoryHoliday: {"all", "holiday season promotion", "Holiday Cheer"},
}

// SeasonalCategory maps a month to its seasonal campaign category.
func SeasonalCategory(m time.Month) string {
	switch m {
	case time.December:
		return CategoryHoliday
	case time.January, time.February:
		return CategoryWinter
	case time.March, time.April, time.May:
		return CategorySpring
	case time.June, time.July, time.August:
		return CategorySummer
	default:
		return CategoryFall
	}
}

// AutoCampaignService proposes campaigns on a fixed cadence.
type AutoCampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ClientRepo   repository.ClientRepositoryInterface
	ProfileRepo  repository.ProfileRepositoryInterface
	Segments     *segment.Engine
	Content      ContentGenerator

	CadenceDays     int
	MaxUpcoming     int
	ExternalTimeout time.Duration
	Now             func() time.Time
}

type GenerateResult struct {
	CampaignsCreated int `json:"campaigns_created"`
}

type UpcomingCampaign struct {
	*model.Campaign
	EstimatedRecipients int `json:"estimated_recipients"`
}

// Slot is one scheduling window start.
type Slot struct {
	Index int64
	Date  time.Time
}

func (s *AutoCampaignService) now() time.Time { return nowFunc(s.Now).UTC() }

func (s *AutoCampaignService) cadence() time.Duration {
	days := s.CadenceDays
	if days < 1 {
		days = defaultCadenceDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Slots returns the starts of the next n windows after the one containing
// now. Windows are aligned to the Unix epoch in UTC, so every call inside
// one window yields the same dates.
func Slots(now time.Time, cadence time.Duration, n int) []Slot {
	width := int64(cadence / time.Second)
	current := now.UTC().Unix() / width
	slots := make([]Slot, 0, n)
	for i := int64(1); i <= int64(n); i++ {
		idx := current + i
		slots = append(slots, Slot{Index: idx, Date: time.Unix(idx*width, 0).UTC()})
	}
	return slots
}

// Generate materializes auto-campaigns for upcoming windows that have none.
func (s *AutoCampaignService) Generate(ctx context.Context, businessID string) (*GenerateResult, error) {
	log := logger.FromContext(ctx).With(zap.String("business_id", businessID))

	profile, err := s.ProfileRepo.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if missing := profile.MissingForAutoCampaigns(); len(missing) > 0 {
		return nil, appErrors.NewProfileIncomplete(missing...)
	}

	clients, err := s.ClientRepo.ListByUser(ctx, businessID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	applicable := s.applicableCategories(clients, now)

	maxUpcoming := s.MaxUpcoming
	if maxUpcoming < 1 {
		maxUpcoming = defaultMaxUpcoming
	}

	result := &GenerateResult{}
	attempted, failed := 0, 0
	var genErr error
	for _, slot := range Slots(now, s.cadence(), maxUpcoming) {
		taken, err := s.CampaignRepo.AutoCategoriesOn(ctx, businessID, slot.Date)
		if err != nil {
			return nil, err
		}
		if len(taken) > 0 {
			continue
		}

		category := pickCategory(applicable, slot)
		attempted++
		c, err := s.buildCampaign(ctx, businessID, profile, category, slot)
		if err != nil {
			log.Warn("skipping auto-campaign slot",
				zap.Time("slot", slot.Date), zap.String("category", category), zap.Error(err))
			genErr = multierr.Append(genErr, err)
			failed++
			continue
		}

		created, err := s.CampaignRepo.CreateAuto(ctx, c)
		if err != nil {
			return nil, err
		}
		if created {
			result.CampaignsCreated++
		}
	}

	if attempted > 0 && failed == attempted {
		return nil, appErrors.NewExternalService("content generation", genErr)
	}

	metrics.AutoCampaignsCreated(result.CampaignsCreated)
	log.Info("auto-campaigns generated", zap.Int("created", result.CampaignsCreated), zap.Int("attempted", attempted))
	return result, nil
}

// applicableCategories lists the audience-driven categories with a
// non-empty audience, in fixed order.
func (s *AutoCampaignService) applicableCategories(clients []model.Client, now time.Time) []string {
	engine := s.Segments
	if engine == nil {
		engine = segment.NewEngine(nil)
	}
	var out []string
	for _, cat := range []string{CategoryWinBack, CategoryWelcome, CategoryLoyalty} {
		aud := model.Audience{SegmentType: autoCategories[cat].segment}
		if len(engine.Resolve(aud, clients, now)) > 0 {
			out = append(out, cat)
		}
	}
	return out
}

// pickCategory rotates by window index through the applicable categories
// plus the slot month's seasonal category.
func pickCategory(applicable []string, slot Slot) string {
	candidates := append(append([]string{}, applicable...), SeasonalCategory(slot.Date.Month()))
	return candidates[int(slot.Index%int64(len(candidates)))]
}

func (s *AutoCampaignService) buildCampaign(ctx context.Context, businessID string, profile *model.BusinessProfile, category string, slot Slot) (*model.Campaign, error) {
	def := autoCategories[category]
	sel, _ := segment.ParseSelector(def.segment)

	req := gemini.ContentRequest{
		BusinessType:   businessType(profile),
		CampaignType:   def.campaignType,
		TargetAudience: segment.Describe(sel),
		Profile:        profile,
	}
	if def.segment == "all" {
		req.SeasonalTheme = strings.ToUpper(category[:1]) + category[1:]
	}
	content, err := generateContent(ctx, s.Content, s.ExternalTimeout, req)
	if err != nil {
		return nil, err
	}

	cat := category
	date := slot.Date
	return &model.Campaign{
		UserID:       businessID,
		Name:         fmt.Sprintf("%s - %s", def.label, date.Format("Jan 2, 2006")),
		Subject:      &content.Subject,
		Body:         &content.Body,
		Audience:     model.Audience{SegmentType: def.segment},
		Status:       model.CampaignScheduled,
		AutoCategory: &cat,
		ScheduledAt:  &date,
	}, nil
}

// Upcoming lists future auto-campaigns with their current audience size.
func (s *AutoCampaignService) Upcoming(ctx context.Context, businessID string) ([]UpcomingCampaign, error) {
	campaigns, err := s.CampaignRepo.ListUpcomingAuto(ctx, businessID, s.now(), upcomingLimit)
	if err != nil {
		return nil, err
	}
	clients, err := s.ClientRepo.ListByUser(ctx, businessID)
	if err != nil {
		return nil, err
	}
	engine := s.Segments
	if engine == nil {
		engine = segment.NewEngine(nil)
	}

	now := s.now()
	out := make([]UpcomingCampaign, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, UpcomingCampaign{
			Campaign:            c,
			EstimatedRecipients: len(engine.Resolve(c.Audience, clients, now)),
		})
	}
	return out, nil
}

// NextDate returns the earliest upcoming auto-campaign date, or nil.
func (s *AutoCampaignService) NextDate(ctx context.Context, businessID string) (*time.Time, error) {
	campaigns, err := s.CampaignRepo.ListUpcomingAuto(ctx, businessID, s.now(), 1)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		return nil, nil
	}
	return campaigns[0].ScheduledAt, nil
}
