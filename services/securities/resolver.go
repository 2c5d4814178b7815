package securities

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"investsim_backend/models"
	"investsim_backend/services/provider"
)

// ProfileFetcher is the slice of the provider the resolver needs for
// opportunistic enrichment.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, symbol string) (*provider.CompanyProfile, error)
}

// Resolver maps symbols to security records, auto-creating unknown ones.
type Resolver struct {
	db       *gorm.DB
	profiles ProfileFetcher
}

// NewResolver creates a resolver. profiles may be nil, which disables
// sector enrichment.
func NewResolver(db *gorm.DB, profiles ProfileFetcher) *Resolver {
	return &Resolver{db: db, profiles: profiles}
}

// FindExistingSecurity looks a symbol up in the registry. Returns
// (nil, nil) when the symbol is unknown.
func (r *Resolver) FindExistingSecurity(symbol string) (*models.Security, error) {
	var security models.Security
	err := r.db.Where("symbol = ?", normalize(symbol)).First(&security).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &security, nil
}

// CreateSecurityFromSymbol registers a previously unknown symbol.
func (r *Resolver) CreateSecurityFromSymbol(symbol string) (*models.Security, error) {
	sym := normalize(symbol)
	if sym == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	security := &models.Security{
		Symbol: sym,
		Name:   sym,
		Status: "active",
	}
	if err := r.db.Create(security).Error; err != nil {
		// Another request may have created it concurrently
		if existing, findErr := r.FindExistingSecurity(sym); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create security %s: %w", sym, err)
	}

	log.Printf("Registered new security %s", sym)
	return security, nil
}

// UpdateSecuritySector enriches name/exchange/sector from the provider's
// company profile. Best-effort: callers log and move on when it fails.
func (r *Resolver) UpdateSecuritySector(security *models.Security) error {
	if r.profiles == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	profile, err := r.profiles.GetProfile(ctx, security.Symbol)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if profile.Name != "" && profile.Name != security.Name {
		security.Name = profile.Name
		updates["name"] = profile.Name
	}
	if profile.Exchange != "" && profile.Exchange != security.Exchange {
		security.Exchange = profile.Exchange
		updates["exchange"] = profile.Exchange
	}
	if profile.Industry != "" && profile.Industry != security.Sector {
		security.Sector = profile.Industry
		updates["sector"] = profile.Industry
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(security).Updates(updates).Error
}

// ListActiveSymbols returns the symbols of all active securities, the
// input set for scheduled bulk refreshes.
func (r *Resolver) ListActiveSymbols() ([]string, error) {
	var symbols []string
	err := r.db.Model(&models.Security{}).Where("status = ?", "active").
		Order("symbol").Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, err
	}
	return symbols, nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
