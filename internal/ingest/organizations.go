package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/suteetoe/coursecatalog/internal/apperr"
	"github.com/suteetoe/coursecatalog/internal/model"
	"github.com/suteetoe/coursecatalog/internal/store"
	"go.uber.org/zap"
)

type organizationRecord struct {
	ShortName   string `json:"short_name"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
}

// OrganizationsLoader upserts organizations by (partner, short_name)
type OrganizationsLoader struct {
	base
	seen map[string]bool
}

// NewOrganizationsLoader creates the organizations loader
func NewOrganizationsLoader(o Options) *OrganizationsLoader {
	return &OrganizationsLoader{base: newBase("organizations", o)}
}

// Ingest pages the organizations API and sweeps organizations no longer listed
func (l *OrganizationsLoader) Ingest(ctx context.Context) (*Summary, error) {
	start := time.Now()
	l.seen = map[string]bool{}
	s, err := l.pages(ctx, l.Partner.OrganizationsAPIURL, l.update)
	if err == nil && l.sweepAllowed(s) {
		err = l.sweep(ctx, s)
	}
	return l.finish(s, start, err)
}

func (l *OrganizationsLoader) update(ctx context.Context, raw json.RawMessage) (string, error) {
	var rec organizationRecord
	if err := decodeRecord(raw, &rec); err != nil {
		return "", err
	}
	if rec.ShortName == "" {
		return "", apperr.Validation("organization without short_name")
	}
	l.seen[strings.ToLower(rec.ShortName)] = true

	return rec.ShortName, l.withTx(ctx, func(tx *store.Tx) error {
		org, err := tx.OrganizationByKey(l.Partner.ID, rec.ShortName)
		if apperr.Is(err, apperr.KindNotFound) {
			org = &model.Organization{PartnerID: l.Partner.ID, Key: rec.ShortName}
		} else if err != nil {
			return err
		}
		org.Name = rec.Name
		org.Description = rec.Description
		org.LogoImageURL = rec.Logo
		return tx.Save(org)
	})
}

// sweep deletes unlisted organizations that no course or program references
func (l *OrganizationsLoader) sweep(ctx context.Context, s *Summary) error {
	var orgs []model.Organization
	if err := l.Store.DB().WithContext(ctx).Where("partner_id = ?", l.Partner.ID).Find(&orgs).Error; err != nil {
		return err
	}
	for i := range orgs {
		org := &orgs[i]
		if l.seen[strings.ToLower(org.Key)] {
			continue
		}
		err := l.withTx(ctx, func(tx *store.Tx) error { return tx.DeleteOrganization(org) })
		switch {
		case err == nil:
			s.Deleted++
		case apperr.Is(err, apperr.KindConflict):
			l.Log.Info("Keeping referenced organization", zap.String("organization", org.Key))
		default:
			return err
		}
	}
	s.Swept = true
	return nil
}
