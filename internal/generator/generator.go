package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/vanshika/iou/backend/internal/service"
)

// Dataset contains the generated users and IOUs.
type Dataset struct {
	Users []service.SeedUser `json:"users"`
	IOUs  []service.SeedIOU  `json:"ious"`
}

// Generator produces demo accounts and the IOUs between them.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments fragments
	phones    map[string]struct{}
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = def.NumUsers
	}
	if cfg.NumIOUs < 0 {
		cfg.NumIOUs = def.NumIOUs
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultFragments(),
		phones:    make(map[string]struct{}),
	}
}

// Generate synthesises users and IOUs. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	now := time.Now().UTC().Truncate(time.Second)
	users := make([]service.SeedUser, g.cfg.NumUsers)
	for i := range users {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		u := service.SeedUser{
			Phone:       g.uniquePhone(),
			DisplayName: g.randomName(),
			CreatedAt:   now.Add(-time.Duration(g.rand.Intn(365*24)) * time.Hour),
		}
		if g.rand.Float64() >= g.cfg.PlaceholderChance {
			u.Pin = fmt.Sprintf("%06d", g.rand.Intn(1_000_000))
		}
		users[i] = u
	}

	creators := make([]int, 0, len(users))
	for i, u := range users {
		if u.Pin != "" {
			creators = append(creators, i)
		}
	}

	var ious []service.SeedIOU
	if len(creators) > 0 {
		ious = make([]service.SeedIOU, g.cfg.NumIOUs)
	}
	for i := range ious {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		from := users[creators[g.rand.Intn(len(creators))]]
		iou := service.SeedIOU{
			FromPhone:   from.Phone,
			Description: g.randomDescription(),
			Repaid:      g.rand.Float64() < g.cfg.RepaidChance,
		}

		switch roll := g.rand.Float64(); {
		case roll < g.cfg.NameOnlyChance:
			iou.ToName = g.randomName()
		case roll < g.cfg.NameOnlyChance+g.cfg.UnregisteredChance:
			iou.ToPhone = g.uniquePhone()
			if g.rand.Float64() < 0.5 {
				iou.ToName = g.randomName()
			}
		default:
			to := g.counterpart(users, from.Phone)
			if to == "" {
				iou.ToName = g.randomName()
			} else {
				iou.ToPhone = to
			}
		}

		if g.rand.Float64() < g.cfg.PhotoChance {
			iou.PhotoURL = fmt.Sprintf("/uploads/demo-%04d.jpg", g.rand.Intn(10000))
		}
		ious[i] = iou
	}

	return Dataset{Users: users, IOUs: ious}, nil
}

// counterpart picks a registered phone other than self, or "" when none exists.
func (g *Generator) counterpart(users []service.SeedUser, self string) string {
	if len(users) < 2 {
		return ""
	}
	for {
		if p := users[g.rand.Intn(len(users))].Phone; p != self {
			return p
		}
	}
}

func (g *Generator) uniquePhone() string {
	for {
		p := fmt.Sprintf("555%03d%04d", g.rand.Intn(1000), g.rand.Intn(10000))
		if _, taken := g.phones[p]; !taken {
			g.phones[p] = struct{}{}
			return p
		}
	}
}

func (g *Generator) randomName() string {
	return fmt.Sprintf("%s %s", g.fragments.first[g.rand.Intn(len(g.fragments.first))],
		g.fragments.last[g.rand.Intn(len(g.fragments.last))])
}

func (g *Generator) randomDescription() string {
	return fmt.Sprintf("%s %s", g.fragments.favors[g.rand.Intn(len(g.fragments.favors))],
		g.fragments.occasions[g.rand.Intn(len(g.fragments.occasions))])
}

type fragments struct {
	first     []string
	last      []string
	favors    []string
	occasions []string
}

func defaultFragments() fragments {
	return fragments{
		first:     []string{"Jane", "John", "Alex", "Priya", "Liu", "Maria", "Omar", "Sofia", "Noah", "Emma", "Lucas", "Mia", "Ava", "Ethan", "Zara"},
		last:      []string{"Doe", "Smith", "Chen", "Patel", "Garcia", "Khan", "Kim", "Ivanov", "Nguyen", "Silva", "Brown", "Lee"},
		favors:    []string{"Lunch", "Coffee", "Cab ride", "Concert ticket", "Groceries", "Movie night", "Borrowed charger", "Pizza", "Airport pickup"},
		occasions: []string{"on Friday", "after the game", "last weekend", "at the office", "for the trip", "downtown"},
	}
}
